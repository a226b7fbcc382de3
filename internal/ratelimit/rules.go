// Package ratelimit admits or rejects actions under fixed-window counters kept
// in a shared store, so every serving process sees the same budget.
package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	ActionReviewSubmission  Action = "REVIEW_SUBMISSION"
	ActionPostCreation      Action = "POST_CREATION"
	ActionCommentCreation   Action = "COMMENT_CREATION"
	ActionMembershipRequest Action = "MEMBERSHIP_REQUEST"
	ActionFlagContent       Action = "FLAG_CONTENT"
	ActionSearch            Action = "SEARCH"
	ActionMagicLinkRequest  Action = "MAGIC_LINK_REQUEST"
)

// Rule is the budget for one action: at most MaxRequests per Window.
type Rule struct {
	Window      time.Duration
	MaxRequests int
}

func (r Rule) validate() error {
	if r.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if r.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be positive")
	}
	return nil
}

// Rules is a read-only action table. The zero value has no rules.
type Rules struct {
	byAction map[Action]Rule
}

// NewRules copies the given table; later changes to the argument are not seen.
func NewRules(table map[Action]Rule) (Rules, error) {
	copied := make(map[Action]Rule, len(table))
	for action, rule := range table {
		if strings.TrimSpace(string(action)) == "" {
			return Rules{}, fmt.Errorf("empty action name")
		}
		if err := rule.validate(); err != nil {
			return Rules{}, fmt.Errorf("rule %s: %w", action, err)
		}
		copied[action] = rule
	}
	return Rules{byAction: copied}, nil
}

// DefaultRules is the production table. It is not configurable at runtime.
func DefaultRules() Rules {
	rules, err := NewRules(map[Action]Rule{
		ActionReviewSubmission:  {Window: 24 * time.Hour, MaxRequests: 5},
		ActionPostCreation:      {Window: time.Hour, MaxRequests: 10},
		ActionCommentCreation:   {Window: time.Hour, MaxRequests: 30},
		ActionMembershipRequest: {Window: 24 * time.Hour, MaxRequests: 3},
		ActionFlagContent:       {Window: time.Hour, MaxRequests: 5},
		ActionSearch:            {Window: time.Minute, MaxRequests: 100},
		ActionMagicLinkRequest:  {Window: time.Hour, MaxRequests: 5},
	})
	if err != nil {
		panic(err)
	}
	return rules
}

func (r Rules) Lookup(action Action) (Rule, bool) {
	rule, ok := r.byAction[action]
	return rule, ok
}

// Key builds "action:identifier" with an optional ":discriminator" suffix.
func Key(action Action, identifier string, discriminator ...string) string {
	key := string(action) + ":" + identifier
	for _, d := range discriminator {
		if d != "" {
			key += ":" + d
		}
	}
	return key
}

// LongestWindow is the largest window in the table, zero when it is empty.
func (r Rules) LongestWindow() time.Duration {
	var longest time.Duration
	for _, rule := range r.byAction {
		longest = max(longest, rule.Window)
	}
	return longest
}
