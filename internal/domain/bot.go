package domain

// Bot is a registered chat-platform bot and the credential used to connect it.
type Bot struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Token   string `json:"token"`
	UserTag string `json:"userTag,omitempty"`
	Online  bool   `json:"online"`
	OwnerID string `json:"ownerId,omitempty"`
}

// PublicBot is the client-facing view of a bot. It never carries the token.
type PublicBot struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	UserTag *string `json:"userTag"`
	Online  bool    `json:"online"`
	OwnerID *string `json:"ownerId"`
}

// Public strips the token.
func (b *Bot) Public() *PublicBot {
	return &PublicBot{
		ID:      b.ID,
		Name:    b.Name,
		UserTag: nullable(b.UserTag),
		Online:  b.Online,
		OwnerID: nullable(b.OwnerID),
	}
}

// OwnedBy reports whether userID is the recorded owner. Unowned bots have no owner.
func (b *Bot) OwnedBy(userID string) bool {
	return b.OwnerID != "" && b.OwnerID == userID
}

// Clone returns a copy that can be mutated independently.
func (b *Bot) Clone() *Bot {
	c := *b
	return &c
}
