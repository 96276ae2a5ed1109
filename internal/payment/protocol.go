package payment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/parkwatch/parkwatch-go/internal/errors"
)

// Verb is a payment terminal request verb.
type Verb string

const (
	// VerbProcess authorizes and settles a payment.
	VerbProcess Verb = "PROCESS_PAYMENT"
	// VerbCalculate quotes the amount owed without mutating anything.
	VerbCalculate Verb = "CALCULATE_PAYMENT"
)

// Sentinel errors for protocol parsing, mapped to ERROR responses.
var (
	ErrInvalidFormat  = errors.Newf("Invalid data format").Component("terminal").Category(errors.CategoryValidation).Build()
	ErrInvalidBalance = errors.Newf("Invalid balance format").Component("terminal").Category(errors.CategoryValidation).Build()
)

// Request is a parsed terminal request line.
type Request struct {
	Verb    Verb
	Plate   string
	Balance int
}

// ParseRequest parses a line of the form
// PROCESS_PAYMENT:<plate>,<balance> or CALCULATE_PAYMENT:<plate>,<balance>.
func ParseRequest(line string) (Request, error) {
	verbPart, payload, found := strings.Cut(strings.TrimSpace(line), ":")
	if !found {
		return Request{}, ErrInvalidFormat
	}

	verb := Verb(verbPart)
	if verb != VerbProcess && verb != VerbCalculate {
		return Request{}, ErrInvalidFormat
	}

	fields := strings.Split(payload, ",")
	if len(fields) < 2 {
		return Request{}, ErrInvalidFormat
	}

	plate := strings.TrimSpace(fields[0])
	if plate == "" {
		return Request{}, ErrInvalidFormat
	}

	balance, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil || balance < 0 {
		return Request{}, ErrInvalidBalance
	}

	return Request{Verb: verb, Plate: plate, Balance: balance}, nil
}

// FormatResult renders the wire response for a payment result:
// PAYMENT_SUCCESS:<newBalance>,<charged>,<duration> |
// INSUFFICIENT_FUNDS:<owed>,<balance> | NO_PARKING_SESSIONS.
func FormatResult(result *Result) string {
	switch result.Kind {
	case ResultSuccess:
		return fmt.Sprintf("PAYMENT_SUCCESS:%d,%d,%s", result.NewBalance, result.Charged, result.Duration)
	case ResultInsufficientFunds:
		return fmt.Sprintf("INSUFFICIENT_FUNDS:%d,%d", result.Owed, result.Balance)
	default:
		return "NO_PARKING_SESSIONS"
	}
}

// FormatError renders an ERROR response.
func FormatError(reason string) string {
	return "ERROR:" + reason
}
