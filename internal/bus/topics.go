package bus

// Topic layout under lumen/<device>:
//
//	turn/request        inbound turn submissions
//	turn/result         retained result of the latest turn
//	turn/stream/<id>    model output chunks for one streaming turn
//	reminder            due calendar events
//	status              periodic runtime status, retained
//	availability        online/offline birth and will messages
type topics struct {
	device string
}

func (t topics) base() string                { return "lumen/" + t.device }
func (t topics) request() string             { return t.base() + "/turn/request" }
func (t topics) result() string              { return t.base() + "/turn/result" }
func (t topics) stream(turnID string) string { return t.base() + "/turn/stream/" + turnID }
func (t topics) reminder() string            { return t.base() + "/reminder" }
func (t topics) status() string              { return t.base() + "/status" }
func (t topics) availability() string        { return t.base() + "/availability" }
