package market

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultAvatarURL is assigned to users without an uploaded avatar
const DefaultAvatarURL = "/img/default-avatar.png"

// User is the marketplace account
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role           UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	Username       string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"-"`
	WhatsappNumber string     `bun:"whatsapp_number" json:"whatsapp_number,omitempty"`
	AvatarURL      string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	AvatarHandle   string     `bun:"avatar_handle" json:"-"`
	IsBanned       bool       `bun:"is_banned,notnull" json:"is_banned"`
	Balance        int64      `bun:"balance,notnull" json:"balance"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsAdmin reports whether the user has the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Sanitized returns a copy of the user without credential material.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.PasswordHash = ""
	return &clone
}

// ProductStatus is the moderation status of a listing
type ProductStatus string

const (
	ProductStatusPending  ProductStatus = "pending"
	ProductStatusApproved ProductStatus = "approved"
	ProductStatusRejected ProductStatus = "rejected"
)

// IsValid checks the status is a known moderation status
func (s ProductStatus) IsValid() bool {
	switch s {
	case ProductStatusPending, ProductStatusApproved, ProductStatusRejected:
		return true
	default:
		return false
	}
}

// Product is a listing offered for sale
type Product struct {
	bun.BaseModel `bun:"table:products,alias:prd"`
	ID            uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	SellerID      uuid.UUID     `bun:"seller_id,notnull,type:uuid" json:"seller_id,omitempty"`
	Seller        *User         `bun:"rel:belongs-to,join:seller_id=id" json:"seller,omitempty"`
	Name          string        `bun:"name,notnull" json:"name"`
	Description   string        `bun:"description,notnull" json:"description"`
	Price         int64         `bun:"price,notnull" json:"price"`
	OriginalPrice *int64        `bun:"original_price" json:"original_price,omitempty"`
	ImageURL      string        `bun:"image_url,notnull" json:"image_url"`
	ImageHandle   string        `bun:"image_handle" json:"-"`
	Images        []MediaAsset  `bun:"images" json:"images,omitempty"`
	Category      string        `bun:"category,notnull" json:"category"`
	Tags          []string      `bun:"tags" json:"tags,omitempty"`
	Stock         int           `bun:"stock,notnull" json:"stock"`
	Views         int64         `bun:"views,notnull" json:"views"`
	Status        ProductStatus `bun:"status,notnull" json:"status"`
	VerifiedBy    string        `bun:"verified_by" json:"verified_by,omitempty"`
	Version       int64         `bun:"version,notnull" json:"version"`
	CreatedAt     *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// GalleryURLs returns the URLs of the gallery images
func (p *Product) GalleryURLs() []string {
	return assetURLs(p.Images)
}

// IsOwnedBy reports whether the user is the seller of the product
func (p *Product) IsOwnedBy(user *User) bool {
	return p != nil && user != nil && p.SellerID == user.ID
}

// VisibleTo reports whether the product can be shown to the user.
// Only approved listings are public; owners and admins see the rest.
func (p *Product) VisibleTo(user *User) bool {
	if p == nil {
		return false
	}
	if p.Status == ProductStatusApproved {
		return true
	}
	return user.IsAdmin() || p.IsOwnedBy(user)
}

// DepositStatus is the payment status of a deposit
type DepositStatus string

const (
	DepositStatusPending    DepositStatus = "pending"
	DepositStatusProcessing DepositStatus = "processing"
	DepositStatusSuccess    DepositStatus = "success"
	DepositStatusFailed     DepositStatus = "failed"
	DepositStatusExpired    DepositStatus = "expired"
)

// IsConfirmable reports whether a payment confirmation may credit the deposit
func (s DepositStatus) IsConfirmable() bool {
	return s == DepositStatusPending || s == DepositStatusProcessing
}

// Deposit is a wallet top up created through the payment gateway
type Deposit struct {
	bun.BaseModel `bun:"table:deposits,alias:dep"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID      `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User          `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	GatewayID     *string        `bun:"gateway_id,unique" json:"gateway_id,omitempty"`
	ReferenceID   string         `bun:"reference_id,notnull,unique" json:"reference_id"`
	Method        string         `bun:"method,notnull" json:"method"`
	Amount        int64          `bun:"amount,notnull" json:"amount"`
	Fee           int64          `bun:"fee,notnull" json:"fee"`
	NetAmount     int64          `bun:"net_amount,notnull" json:"net_amount"`
	QRImageURL    string         `bun:"qr_image_url" json:"qr_image_url,omitempty"`
	QRImageString string         `bun:"qr_image_string" json:"qr_image_string,omitempty"`
	Status        DepositStatus  `bun:"status,notnull" json:"status"`
	ExpiresAt     *time.Time     `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	GatewayReply  map[string]any `bun:"gateway_reply" json:"-"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// SessionRecord is the server side state of an authenticated session
type SessionRecord struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            string     `bun:"id,pk" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// IsExpired reports whether the session is past its expiration
func (s *SessionRecord) IsExpired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}
