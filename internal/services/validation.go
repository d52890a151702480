package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// frenchPhonePattern accepts metropolitan numbers with or without the +33/0033 prefix.
	frenchPhonePattern = regexp.MustCompile(`^(?:(?:\+|00)33|0)\s*[1-9](?:[\s.-]*\d{2}){4}$`)
	emailPattern       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// textPolicy strips all markup from free-form customer text before it is stored.
	textPolicy = bluemonday.StrictPolicy()
)

func validateCustomerInfo(info CustomerInfo) error {
	if len([]rune(strings.TrimSpace(info.FirstName))) < 2 {
		return fmt.Errorf("%w: customer first name must have at least 2 characters", ErrOrderInvalidInput)
	}
	if len([]rune(strings.TrimSpace(info.LastName))) < 2 {
		return fmt.Errorf("%w: customer last name must have at least 2 characters", ErrOrderInvalidInput)
	}
	if !emailPattern.MatchString(strings.TrimSpace(info.Email)) {
		return fmt.Errorf("%w: customer email %q is invalid", ErrOrderInvalidInput, info.Email)
	}
	if !frenchPhonePattern.MatchString(strings.TrimSpace(info.Phone)) {
		return fmt.Errorf("%w: customer phone %q is invalid", ErrOrderInvalidInput, info.Phone)
	}
	return nil
}

func validateDeliveryDate(date time.Time, now time.Time, leadTime time.Duration) error {
	if date.IsZero() {
		return fmt.Errorf("%w: delivery date is required", ErrOrderInvalidInput)
	}
	if date.Before(now.Add(leadTime)) {
		return fmt.Errorf("%w: delivery date must be at least %s from now", ErrOrderInvalidInput, leadTime)
	}
	return nil
}

func sanitizeFreeText(value string) string {
	return strings.TrimSpace(textPolicy.Sanitize(value))
}
