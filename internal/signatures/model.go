package signatures

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidSignatureID indicates that a signature identifier is empty or exceeds storage bounds.
	ErrInvalidSignatureID = errors.New("signatures: invalid signature id")
	// ErrMissingSignatureURL indicates a submission without a stored blob URL.
	ErrMissingSignatureURL = errors.New("signatures: signature url is required")
	// ErrSignatureNotFound indicates that no row matches the identifier.
	ErrSignatureNotFound = errors.New("signatures: signature not found")
	// ErrMissingIdentity indicates a per-user operation without a user token.
	ErrMissingIdentity = errors.New("signatures: user identity is required")
	// ErrMissingNickname indicates a comment without a display nickname.
	ErrMissingNickname = errors.New("signatures: nickname is required")
	// ErrEmptyMessage indicates a blank comment message.
	ErrEmptyMessage = errors.New("signatures: message is required")
	// ErrInvalidPage indicates a negative page index or non-positive page size.
	ErrInvalidPage = errors.New("signatures: invalid page request")
)

// SignatureID represents a validated signature identifier.
type SignatureID string

// NewSignatureID validates raw input and returns a SignatureID.
func NewSignatureID(rawInput string) (SignatureID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSignatureID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSignatureID, maxIdentifierLength)
	}
	return SignatureID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SignatureID) String() string {
	return string(id)
}

// Signature is one wall entry.
type Signature struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Message      string    `gorm:"column:message;type:text;not null;default:''" json:"message"`
	SignatureURL string    `gorm:"column:signature_url;type:text;not null" json:"signature_url"`
	AuthorName   string    `gorm:"column:author_name;size:190;not null;default:''" json:"author_name"`
	ProfileImage string    `gorm:"column:profile_image;size:190;not null;default:''" json:"profile_image"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_signatures_created" json:"created_at"`
	Likes        int64     `gorm:"column:likes;not null;default:0" json:"likes"`
	Reply        *string   `gorm:"column:reply;size:32" json:"reply"`
}

// TableName provides the explicit table binding for GORM.
func (Signature) TableName() string {
	return "signatures"
}

// Like records that one user liked one signature.
type Like struct {
	SignatureID string    `gorm:"column:signature_id;primaryKey;size:190;not null" json:"signature_id"`
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null;index" json:"user_id"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "signature_likes"
}

// Comment is an append-only remark on a signature.
type Comment struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	SignatureID string    `gorm:"column:signature_id;size:190;not null;index:idx_comments_signature_created,priority:1" json:"signature_id"`
	UserID      string    `gorm:"column:user_id;size:190;not null" json:"user_id"`
	Username    string    `gorm:"column:username;size:190;not null" json:"username"`
	Message     string    `gorm:"column:message;type:text;not null" json:"message"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index:idx_comments_signature_created,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "signature_comments"
}

// Models lists every persisted type for schema migration.
func Models() []any {
	return []any{&Signature{}, &Like{}, &Comment{}}
}

// NewSignature carries the caller-provided fields of a submission.
type NewSignature struct {
	Message      string
	SignatureURL string
	AuthorName   string
}

// Page is one slice of the newest-first feed.
type Page struct {
	Signatures []Signature `json:"signatures"`
	HasMore    bool        `json:"hasMore"`
	TotalCount int64       `json:"totalCount"`
}

// LikeResult reports the persisted like state after a change.
type LikeResult struct {
	Liked bool  `json:"liked"`
	Likes int64 `json:"likes"`
}
