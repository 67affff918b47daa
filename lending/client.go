package lending

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Client is the typed surface over the gateway: one method per service
// operation, wire shapes matching the lending service. Pages and the
// state machine go through here; nobody builds ad-hoc requests.
type Client struct {
	gw *Gateway
}

func NewClient(gw *Gateway) *Client { return &Client{gw: gw} }

// LoanUpdate is the post-state the service returns for a successful
// borrow or return: the affected copy and its parent book with fresh
// availability counts.
type LoanUpdate struct {
	Message string    `json:"message"`
	Copy    *BookCopy `json:"book_instance"`
	Book    *Book     `json:"book"`
}

// Login exchanges credentials for a session token. The token is NOT
// stored here; the caller owns session lifecycle.
func (c *Client) Login(ctx context.Context, email, password string) (string, *Principal, error) {
	var out struct {
		Token string     `json:"token"`
		User  *Principal `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.gw.Do(ctx, http.MethodPost, "/users/login/", body, &out); err != nil {
		return "", nil, err
	}
	return out.Token, out.User, nil
}

// Register creates a new account. The service returns the created user
// and an initial token.
func (c *Client) Register(ctx context.Context, username, email, password, password2 string) (string, *Principal, error) {
	var out struct {
		Token string     `json:"token"`
		User  *Principal `json:"user"`
	}
	body := map[string]string{
		"username":  username,
		"email":     email,
		"password":  password,
		"password2": password2,
	}
	if err := c.gw.Do(ctx, http.MethodPost, "/users/register/", body, &out); err != nil {
		return "", nil, err
	}
	return out.Token, out.User, nil
}

// Logout asks the service to revoke the current token. The caller
// clears the session afterwards regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	return c.gw.Do(ctx, http.MethodPost, "/users/logout/", nil, nil)
}

// CurrentUser is the identity probe: who does the service think holds
// this token, and are they staff.
func (c *Client) CurrentUser(ctx context.Context) (*Principal, error) {
	var out Principal
	if err := c.gw.Do(ctx, http.MethodGet, "/users/me/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile fetches the full account view including wishlist and
// availability notifications.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.gw.Do(ctx, http.MethodGet, "/users/profile/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBooks fetches the catalog.
func (c *Client) ListBooks(ctx context.Context) ([]Book, error) {
	var out []Book
	if err := c.gw.Do(ctx, http.MethodGet, "/books/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchBooks searches titles and authors.
func (c *Client) SearchBooks(ctx context.Context, query string) (*SearchResult, error) {
	var out SearchResult
	path := "/books/search/?query=" + url.QueryEscape(query)
	if err := c.gw.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBook fetches one title with its copies and their histories.
func (c *Client) GetBook(ctx context.Context, id int64) (*Book, error) {
	var out Book
	if err := c.gw.Do(ctx, http.MethodGet, fmt.Sprintf("/books/%d/", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BorrowCopy submits a borrow for one copy and returns the confirmed
// post-state. The server re-validates availability; a race with another
// client comes back as a Conflict error.
func (c *Client) BorrowCopy(ctx context.Context, copyID int64) (*LoanUpdate, error) {
	var out LoanUpdate
	body := map[string]int64{"book_instance": copyID}
	if err := c.gw.Do(ctx, http.MethodPost, "/books/borrow/", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReturnCopy submits a return for one copy and returns the confirmed
// post-state including the closed loan record.
func (c *Client) ReturnCopy(ctx context.Context, copyID int64) (*LoanUpdate, error) {
	var out LoanUpdate
	body := map[string]int64{"book_instance": copyID}
	if err := c.gw.Do(ctx, http.MethodPost, "/books/return_book/", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddWishlist subscribes the current user to a book's availability.
// Duplicate handling lives in the state machine, not here.
func (c *Client) AddWishlist(ctx context.Context, bookID int64) (*WishlistEntry, error) {
	var out struct {
		Message  string         `json:"message"`
		Wishlist *WishlistEntry `json:"wishlist"`
	}
	path := fmt.Sprintf("/books/%d/wishlist/", bookID)
	if err := c.gw.Do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Wishlist, nil
}

// WishlistsOn lists who is waiting on a book.
func (c *Client) WishlistsOn(ctx context.Context, bookID int64) ([]WishlistEntry, error) {
	var out []WishlistEntry
	path := fmt.Sprintf("/books/%d/wishlists_on/", bookID)
	if err := c.gw.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Report fetches the staff loan report.
func (c *Client) Report(ctx context.Context) ([]ReportRow, error) {
	var out struct {
		Report []ReportRow `json:"report"`
	}
	if err := c.gw.Do(ctx, http.MethodGet, "/books/report/", nil, &out); err != nil {
		return nil, err
	}
	return out.Report, nil
}

// UploadCSV streams a catalog CSV to the service. The result carries a
// top-level message plus per-row errors; rows that failed do not abort
// the rows that imported.
func (c *Client) UploadCSV(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	var out UploadResult
	if err := c.gw.Upload(ctx, "/books/upload_csv/", "file", filename, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
