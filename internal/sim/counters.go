package sim

// Counters are cumulative statistics of a run.
type Counters struct {
	EventsDispatched  uint64
	AttachAttempts    uint64
	PartitionsCreated uint64
	PartitionMerges   uint64
	Advertisements    uint64
	PingRequests      uint64
	PingReplies       uint64
	PingsLost         uint64
	FramesDispatched  uint64
	FramesLost        uint64
}

// CounterField is one named counter value.
type CounterField struct {
	Name  string
	Value uint64
}

// Fields lists the counters in declaration order.
func (c Counters) Fields() []CounterField {
	return []CounterField{
		{"EventsDispatched", c.EventsDispatched},
		{"AttachAttempts", c.AttachAttempts},
		{"PartitionsCreated", c.PartitionsCreated},
		{"PartitionMerges", c.PartitionMerges},
		{"Advertisements", c.Advertisements},
		{"PingRequests", c.PingRequests},
		{"PingReplies", c.PingReplies},
		{"PingsLost", c.PingsLost},
		{"FramesDispatched", c.FramesDispatched},
		{"FramesLost", c.FramesLost},
	}
}
