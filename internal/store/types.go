package store

// User is a stable external-id-keyed user record. Display names are
// union-merged on every upsert; procedural memory and background are
// overwritten.
type User struct {
	ID               string
	DisplayName      string
	DisplayNames     []string
	ProceduralMemory string
	Background       string
	CreatedAt        int64
}

// PendingMessageRef is an append-only record of a message reference seen by
// the Message Tracker, awaiting body capture by the Episodic ETL Service.
type PendingMessageRef struct {
	ID            int64
	MessageID     string
	ChannelID     string
	GuildID       string
	UserID        string
	TimestampSec  int64
	ProcessedFlag bool
}

// Message is a fully captured message body, stored by the ETL once fetched
// from the external chat service.
type Message struct {
	MessageID     string
	ChannelID     string
	GuildID       string
	UserID        string
	Content       string
	TimestampSec  int64
	ReactionsJSON string
	Vectorized    bool
}

// ChannelState tracks the window of unprocessed messages per channel.
type ChannelState struct {
	ChannelID      string
	MessageCount   int
	StartMessageID string
}
