// Package idgen generates and validates the structured identifiers used
// across the core banking system: customer IDs, account numbers, transaction
// IDs and employee IDs. The formats below are a wire contract; downstream
// systems re-parse these strings independently, so separators, digit widths
// and the account-number checksum must be reproduced exactly.
//
//	Customer ID     YYDDD-BBBBB-SSSS
//	Account number  BBBBB-AATT-CCCCCC-CC
//	Transaction ID  TRX-YYYYMMDD-SSSSSS
//	Employee ID     ZZBB-DD-EEEE
package idgen

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Kind names an identifier format for the generic Validate entry point.
type Kind string

const (
	KindCustomer    Kind = "customer"
	KindAccount     Kind = "account"
	KindTransaction Kind = "transaction"
	KindEmployee    Kind = "employee"
)

var (
	customerIDRe    = regexp.MustCompile(`^(\d{2})(\d{3})-(\d{5})-(\d{4})$`)
	accountNumberRe = regexp.MustCompile(`^(\d{5})-(\d{2})(\d{2})-(\d{6})-(\d{2})$`)
	transactionIDRe = regexp.MustCompile(`^TRX-(\d{8})-(\d{6})$`)
	employeeIDRe    = regexp.MustCompile(`^(\d{2})(\d{2})-(\d{2})-(\d{4})$`)
)

// checksum97 computes the account-number check digits: an alternating
// x1/x2 weighted sum of the digits (x1 on the first digit, x2 on the
// second, and so on), reduced mod 97. Generation and validation must share
// this exact scheme because external systems re-derive it.
func checksum97(digits string) int {
	sum := 0
	for i, r := range digits {
		d := int(r - '0')
		if i%2 == 1 {
			d *= 2
		}
		sum += d
	}
	return sum % 97
}

// FormatCustomerID builds YYDDD-BBBBB-SSSS from the issue date, branch code
// and customer sequence value.
func FormatCustomerID(issuedAt time.Time, branch int, seq int64) string {
	return fmt.Sprintf("%02d%03d-%05d-%04d", issuedAt.Year()%100, issuedAt.YearDay(), branch, seq%10000)
}

// ValidateCustomerID reports whether s is a well-formed customer ID. The
// embedded day-of-year must be 1-366 and day 366 is only legal in a leap
// year. Two-digit years are interpreted in the 2000s.
func ValidateCustomerID(s string) bool {
	m := customerIDRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	year, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	if day < 1 || day > 366 {
		return false
	}
	if day == 366 && !isLeapYear(2000+year) {
		return false
	}
	return true
}

// FormatAccountNumber builds BBBBB-AATT-CCCCCC-CC. The trailing two digits
// are the mod-97 checksum over the preceding fifteen digits.
func FormatAccountNumber(branch, accountType, subtype int, customerSeq int64) string {
	body := fmt.Sprintf("%05d%02d%02d%06d", branch, accountType, subtype, customerSeq%1000000)
	return fmt.Sprintf("%s-%s%s-%s-%02d", body[0:5], body[5:7], body[7:9], body[9:15], checksum97(body))
}

// ValidateAccountNumber reports whether s is a well-formed account number
// with a matching checksum. Any single-digit corruption flips the result.
func ValidateAccountNumber(s string) bool {
	m := accountNumberRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	body := m[1] + m[2] + m[3] + m[4]
	want, _ := strconv.Atoi(m[5])
	return checksum97(body) == want
}

// FormatTransactionID builds TRX-YYYYMMDD-SSSSSS from the booking date and
// transaction sequence value.
func FormatTransactionID(bookedAt time.Time, seq int64) string {
	return fmt.Sprintf("TRX-%s-%06d", bookedAt.Format("20060102"), seq%1000000)
}

// ValidateTransactionID reports whether s is a well-formed transaction ID.
// The embedded date must be a real Gregorian calendar date; February 29 is
// accepted only in leap years.
func ValidateTransactionID(s string) bool {
	m := transactionIDRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	_, err := time.Parse("20060102", m[1])
	return err == nil
}

// FormatEmployeeID builds ZZBB-DD-EEEE from zone, branch, designation and
// the employee sequence value.
func FormatEmployeeID(zone, branch, designation int, seq int64) string {
	return fmt.Sprintf("%02d%02d-%02d-%04d", zone, branch, designation, seq%10000)
}

// ValidateEmployeeID reports whether s is a well-formed employee ID.
func ValidateEmployeeID(s string) bool {
	return employeeIDRe.MatchString(s)
}

// Validate dispatches to the per-kind validator. Unknown kinds and malformed
// input return false; validation never panics.
func Validate(kind Kind, s string) bool {
	switch kind {
	case KindCustomer:
		return ValidateCustomerID(s)
	case KindAccount:
		return ValidateAccountNumber(s)
	case KindTransaction:
		return ValidateTransactionID(s)
	case KindEmployee:
		return ValidateEmployeeID(s)
	}
	return false
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
