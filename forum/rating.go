package forum

import "fmt"

type TargetKind string

const (
	KindChannel TargetKind = "channel"
	KindMessage TargetKind = "message"
	KindReply   TargetKind = "reply"
)

// Target identifies the single entity a rating (or a reply parent) points at.
type Target struct {
	Kind TargetKind
	ID   int64
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}

// MarshalText lets a Tally be encoded as a JSON object keyed by "kind:id".
func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type Votes struct {
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
}

// Tally maps every rated or rateable target to its vote counts.
type Tally map[Target]Votes

// Get returns the votes for t, {0,0} when t was never seen.
func (t Tally) Get(target Target) Votes {
	return t[target]
}

func (t Tally) seed(target Target) {
	if _, ok := t[target]; !ok {
		t[target] = Votes{}
	}
}

func (t Tally) add(target Target, up bool) {
	v := t[target]
	if up {
		v.Upvotes++
	} else {
		v.Downvotes++
	}
	t[target] = v
}

// ratingTarget collapses the three nullable rating foreign keys into a Target.
// Rows with zero or several keys set carry no usable rating.
func (r *Row) ratingTarget() (Target, bool) {
	var (
		target Target
		set    int
	)
	if r.RatingChannelID != nil {
		target = Target{Kind: KindChannel, ID: *r.RatingChannelID}
		set++
	}
	if r.RatingMessageID != nil {
		target = Target{Kind: KindMessage, ID: *r.RatingMessageID}
		set++
	}
	if r.RatingReplyID != nil {
		target = Target{Kind: KindReply, ID: *r.RatingReplyID}
		set++
	}
	if set != 1 || r.IsUpVote == nil {
		return Target{}, false
	}
	return target, true
}

// replyParent returns the parent of the reply carried by r.
// Exactly one of ParentReplyID and ReplyMessageID must be set.
func (r *Row) replyParent() (Target, bool) {
	switch {
	case r.ParentReplyID != nil && r.ReplyMessageID != nil:
		return Target{}, false
	case r.ParentReplyID != nil:
		return Target{Kind: KindReply, ID: *r.ParentReplyID}, true
	case r.ReplyMessageID != nil:
		return Target{Kind: KindMessage, ID: *r.ReplyMessageID}, true
	}
	return Target{}, false
}
