package domain

// Conversation is the persisted history of one user, oldest record first.
// Version is bumped on every successful save and used for conditional writes.
type Conversation struct {
	UserID  string
	Records []Record
	Version int64
}

// Empty reports whether the conversation has no stored turns.
func (c Conversation) Empty() bool {
	return len(c.Records) == 0
}

// Append returns a copy of c with records added at the end. The receiver's
// backing array is never shared with the result.
func (c Conversation) Append(records ...Record) Conversation {
	out := make([]Record, 0, len(c.Records)+len(records))
	out = append(out, c.Records...)
	out = append(out, records...)
	c.Records = out
	return c
}

// Window keeps at most maxRecords of the newest records. The kept slice always
// starts with a user record so a turn is never split. maxRecords <= 0 keeps all.
func (c Conversation) Window(maxRecords int) Conversation {
	if maxRecords <= 0 || len(c.Records) <= maxRecords {
		return c
	}
	kept := c.Records[len(c.Records)-maxRecords:]
	for len(kept) > 0 && kept[0].Role != RoleUser {
		kept = kept[1:]
	}
	c.Records = append([]Record(nil), kept...)
	return c
}
