package lockss

import (
	"fmt"
	"strings"
	"time"
)

// ArchivalUnit is an independently configured collection of URLs under preservation.
type ArchivalUnit struct {
	ID        string
	Name      string
	BaseURL   string
	CreatedAt time.Time
}

// SubscriptionStatus records whether the publisher treats this box as a
// subscriber (institutional address works) or as archive-only.
type SubscriptionStatus int

const (
	SubscriptionUnknown SubscriptionStatus = iota
	SubscriptionYes
	SubscriptionNo
	SubscriptionInaccessible
	SubscriptionNotMaintained
)

var subscriptionStatusNames = map[SubscriptionStatus]string{
	SubscriptionUnknown:       "unknown",
	SubscriptionYes:           "yes",
	SubscriptionNo:            "no",
	SubscriptionInaccessible:  "inaccessible",
	SubscriptionNotMaintained: "not_maintained",
}

func (s SubscriptionStatus) String() string {
	if name, ok := subscriptionStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SubscriptionStatus(%d)", int(s))
}

// ParseSubscriptionStatus is the inverse of SubscriptionStatus.String.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	for status, name := range subscriptionStatusNames {
		if strings.EqualFold(name, s) {
			return status, nil
		}
	}
	return SubscriptionUnknown, fmt.Errorf("unknown subscription status: %q", s)
}

// SubstanceState records whether the AU has been seen to contain substantive content.
type SubstanceState int

const (
	SubstanceUnknown SubstanceState = iota
	SubstanceYes
	SubstanceNo
)

func (s SubstanceState) String() string {
	switch s {
	case SubstanceYes:
		return "yes"
	case SubstanceNo:
		return "no"
	default:
		return "unknown"
	}
}

// AuState is the persisted per-AU state.
type AuState struct {
	AuID               string
	SubscriptionStatus SubscriptionStatus
	SubstanceState     SubstanceState
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewAuState returns the initial state of a newly registered AU.
func NewAuState(auID string, now time.Time) *AuState {
	return &AuState{
		AuID:               auID,
		SubscriptionStatus: SubscriptionUnknown,
		SubstanceState:     SubstanceUnknown,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
