package gemini

import "fmt"

// Status is a two-digit response code.
type Status uint8

const (
	StatusInput               Status = 10
	StatusSensitiveInput      Status = 11
	StatusSuccess             Status = 20
	StatusTemporaryRedirect   Status = 30
	StatusPermanentRedirect   Status = 31
	StatusTemporaryFailure    Status = 40
	StatusServerUnavailable   Status = 41
	StatusCGIError            Status = 42
	StatusProxyError          Status = 43
	StatusSlowDown            Status = 44
	StatusPermanentFailure    Status = 50
	StatusNotFound            Status = 51
	StatusGone                Status = 52
	StatusProxyRequestRefused Status = 53
	StatusBadRequest          Status = 59
	StatusClientCertRequired  Status = 60
	StatusNotAuthorized       Status = 61
	StatusCertNotValid        Status = 62
)

var statusNames = map[Status]string{
	StatusInput:               "input",
	StatusSensitiveInput:      "sensitive input",
	StatusSuccess:             "success",
	StatusTemporaryRedirect:   "temporary redirect",
	StatusPermanentRedirect:   "permanent redirect",
	StatusTemporaryFailure:    "temporary failure",
	StatusServerUnavailable:   "server unavailable",
	StatusCGIError:            "cgi error",
	StatusProxyError:          "proxy error",
	StatusSlowDown:            "slow down",
	StatusPermanentFailure:    "permanent failure",
	StatusNotFound:            "not found",
	StatusGone:                "gone",
	StatusProxyRequestRefused: "proxy request refused",
	StatusBadRequest:          "bad request",
	StatusClientCertRequired:  "client certificate required",
	StatusNotAuthorized:       "certificate not authorized",
	StatusCertNotValid:        "certificate not valid",
}

// InvalidStatusError carries a byte that does not name a known status.
type InvalidStatusError byte

func (e InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status code %d", byte(e))
}

// StatusFromByte decodes b into a Status. Unknown codes fail with
// InvalidStatusError holding b unchanged.
func StatusFromByte(b byte) (Status, error) {
	s := Status(b)
	if _, ok := statusNames[s]; !ok {
		return 0, InvalidStatusError(b)
	}
	return s, nil
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Category groups statuses by their leading digit.
func (s Status) Category() Category {
	return Category(uint8(s) / 10)
}

// Category is the class of a Status.
type Category uint8

const (
	CategoryInput              Category = 1
	CategorySuccess            Category = 2
	CategoryRedirect           Category = 3
	CategoryTemporaryFailure   Category = 4
	CategoryPermanentFailure   Category = 5
	CategoryClientCertRequired Category = 6
)

func (c Category) String() string {
	switch c {
	case CategoryInput:
		return "input"
	case CategorySuccess:
		return "success"
	case CategoryRedirect:
		return "redirect"
	case CategoryTemporaryFailure:
		return "temporary_failure"
	case CategoryPermanentFailure:
		return "permanent_failure"
	case CategoryClientCertRequired:
		return "client_cert_required"
	default:
		return "unknown"
	}
}
