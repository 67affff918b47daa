package lending

import "time"

// Copy status codes as the lending service reports them.
const (
	StatusAvailable = "Available"
	StatusBorrowed  = "Borrowed"
	StatusReserved  = "Reserved"
	StatusLost      = "Lost"
	StatusDamaged   = "Damaged"
)

// Author is one contributor to a book, ordered as the service lists them.
type Author struct {
	ID         int64  `json:"id"`
	GivenNames string `json:"given_names"`
	Surname    string `json:"surname"`
}

// Book represents one title in the catalog. AvailableCopies and
// TotalCopies are materialized counts owned by the server; the client
// mirrors them and never adjusts them by local arithmetic.
type Book struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Authors         []Author   `json:"authors"`
	AuthorsDisplay  string     `json:"authors_display"`
	ISBN            string     `json:"isbn"`
	Language        string     `json:"language"`
	PublicationYear int        `json:"publication_year"`
	AvailableCopies int        `json:"available_copies"`
	TotalCopies     int        `json:"total_copies"`
	ExternalID      string     `json:"amazon_id,omitempty"`
	Instances       []BookCopy `json:"book_instances,omitempty"`
}

// BookCopy is one lendable physical unit of a Book. Status transitions
// are server-confirmed; a copy holds exactly one status at a time.
type BookCopy struct {
	ID      int64        `json:"id"`
	BookID  int64        `json:"book_id"`
	Status  string       `json:"status"`
	History []LoanRecord `json:"history,omitempty"`
}

// LoanRecord is one borrow/return cycle of a copy. Records are
// append-only; only the return fields are ever filled in later.
type LoanRecord struct {
	ID           int64      `json:"id"`
	CopyID       int64      `json:"book_instance"`
	Borrower     string     `json:"borrower"`
	BorrowedDate time.Time  `json:"borrowed_date"`
	DueDate      time.Time  `json:"due_date"`
	ReturnedDate *time.Time `json:"returned_date,omitempty"`
	IsReturned   bool       `json:"is_returned"`
}

// Principal is the cached view of who is logged in, rebuilt from a
// successful identity probe and discarded whenever the session dies.
type Principal struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsStaff  bool   `json:"is_staff"`
}

// WishlistEntry subscribes a user to availability of one book. The
// server enforces at most one entry per (user, book).
type WishlistEntry struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	BookID    int64     `json:"book_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is produced server-side when a wishlisted book becomes
// available. Read-only from this client.
type Notification struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	BookID    int64     `json:"book_id"`
	Notified  bool      `json:"notified"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the full account view: identity plus wishlist and
// pending notifications.
type Profile struct {
	Principal
	Wishlist      []Book         `json:"wishlist"`
	Notifications []Notification `json:"notifications"`
}

// ReportRow is one line of the staff loan report.
type ReportRow struct {
	BookTitle    string    `json:"book_title"`
	BookID       int64     `json:"book_id"`
	CopyID       int64     `json:"bookinstance_id"`
	Status       string    `json:"book_status"`
	Borrower     string    `json:"borrower"`
	BorrowedDate time.Time `json:"borrowed_date"`
	DueDate      time.Time `json:"due_date"`
}

// UploadResult is the outcome of a catalog CSV upload: a top-level
// message plus per-row errors for rows that did not import. A non-empty
// Errors list does not mean the whole batch failed.
type UploadResult struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

// SearchResult is the payload of the catalog search endpoint.
type SearchResult struct {
	Count   int    `json:"count"`
	Query   string `json:"query"`
	Results []Book `json:"results"`
}
