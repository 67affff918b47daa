package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"library-client/lending"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// app wires the core components for one CLI invocation. Commands are
// the "pages" of this client: they read and mutate lending state only
// through the session store, gateway, state machine, and access gate.
type app struct {
	cfg     *lending.Config
	state   *lending.StateFile
	session *lending.Session
	client  *lending.Client
	gate    *lending.AccessGate
	sm      *lending.StateMachine
}

func main() {
	a := &app{}
	root := buildRootCmd(a)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Client for the library lending service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	root.AddCommand(
		loginCmd(a),
		logoutCmd(a),
		registerCmd(a),
		whoamiCmd(a),
		profileCmd(a),
		booksCmd(a),
		searchCmd(a),
		showCmd(a),
		borrowCmd(a),
		returnCmd(a),
		wishlistCmd(a),
		waitlistCmd(a),
		reportCmd(a),
		uploadCmd(a),
	)
	return root
}

// setup loads config, seeds the in-memory session from the state file,
// and wires the 401 invalidation path: gateway clears the session, the
// session's cleared hook wipes the persisted copy, and the single
// navigation handler tells the user to log in again.
func (a *app) setup() error {
	cfg, err := lending.LoadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	state, err := lending.NewStateFile(cfg.StateDB)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	a.state = state

	a.session = lending.NewSession()
	if token, _, err := state.LoadSession(); err != nil {
		return fmt.Errorf("load session: %w", err)
	} else if token != "" {
		a.session.SetToken(token)
	}
	a.session.OnCleared(func() {
		if err := state.ClearSession(); err != nil {
			slog.Warn("failed to clear persisted session", "error", err)
		}
	})

	gw := lending.NewGateway(cfg, a.session)
	gw.OnUnauthorized(func() {
		fmt.Fprintln(os.Stderr, "Your session has expired. Run 'library login' to sign in again.")
	})

	a.client = lending.NewClient(gw)
	a.gate = lending.NewAccessGate(a.session, a.client)
	a.sm = lending.NewStateMachine(a.client)
	return nil
}

func (a *app) teardown() {
	if a.state != nil {
		a.state.Close()
	}
}

func (a *app) ctx() (context.Context, context.CancelFunc) {
	// One extra second over the per-request timeout so the gateway's
	// own deadline is the one that fires.
	return context.WithTimeout(context.Background(), a.cfg.HTTPTimeout+time.Second)
}

// requireAccess runs the gate check for a protected command. The CLI's
// "redirect" is an instruction to log in and re-run the original
// command, which stands in for the preserved origin location.
func (a *app) requireAccess(ctx context.Context, requireStaff bool, from string) (*lending.Principal, error) {
	outcome := a.gate.Check(ctx, requireStaff, from)
	switch outcome.Decision {
	case lending.DecisionRedirectLogin:
		return nil, fmt.Errorf("you are not logged in; run 'library login' and then re-run '%s'", outcome.From)
	case lending.DecisionRedirectHome:
		return nil, fmt.Errorf("'%s' is staff-only", outcome.From)
	}
	return outcome.Principal, nil
}

// readPassword securely reads a password with masking.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", what, arg)
	}
	return id, nil
}

// ------------------ Session commands ------------------

func loginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login <email>",
		Short: "Log in and store the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.TrimSpace(args[0])
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			ctx, cancel := a.ctx()
			defer cancel()

			token, user, err := a.client.Login(ctx, email, password)
			if err != nil {
				return fmt.Errorf("login failed: %s", lending.MessageFor(err))
			}

			a.session.SetToken(token)
			if err := a.state.SaveSession(token, user); err != nil {
				return fmt.Errorf("session obtained but could not be saved: %w", err)
			}

			if user != nil {
				fmt.Printf("Logged in as %s (%s)\n", user.Username, user.Email)
				if user.IsStaff {
					fmt.Println("Staff actions are available: report, upload.")
				}
			} else {
				fmt.Println("Logged in.")
			}
			return nil
		},
	}
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := a.session.Token(); !ok {
				fmt.Println("Not logged in.")
				return nil
			}

			ctx, cancel := a.ctx()
			defer cancel()

			// Best effort server side; the local session goes away
			// either way.
			if err := a.client.Logout(ctx); err != nil && !lending.IsKind(err, lending.KindUnauthorized) {
				fmt.Fprintf(os.Stderr, "Warning: server logout failed: %s\n", lending.MessageFor(err))
			}
			a.session.ClearToken()
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func registerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register <username> <email>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, email := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])

			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password2, err := readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			ctx, cancel := a.ctx()
			defer cancel()

			token, user, err := a.client.Register(ctx, username, email, password, password2)
			if err != nil {
				printValidation(err)
				return fmt.Errorf("registration failed: %s", lending.MessageFor(err))
			}

			if token != "" {
				a.session.SetToken(token)
				if err := a.state.SaveSession(token, user); err != nil {
					return fmt.Errorf("account created but session could not be saved: %w", err)
				}
			}
			fmt.Printf("Account created for %s.\n", username)
			return nil
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx()
			defer cancel()

			principal, err := a.requireAccess(ctx, false, "library whoami")
			if err != nil {
				return err
			}
			role := "member"
			if principal.IsStaff {
				role = "staff"
			}
			fmt.Printf("%s <%s> (%s)\n", principal.Username, principal.Email, role)
			return nil
		},
	}
}

func profileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show wishlist and availability notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx()
			defer cancel()

			if _, err := a.requireAccess(ctx, false, "library profile"); err != nil {
				return err
			}

			profile, err := a.client.Profile(ctx)
			if err != nil {
				return fmt.Errorf("could not load profile: %s", lending.MessageFor(err))
			}

			fmt.Printf("%s <%s>\n", profile.Username, profile.Email)

			if len(profile.Wishlist) == 0 {
				fmt.Println("\nWishlist: empty")
			} else {
				fmt.Println("\nWishlist:")
				for _, b := range profile.Wishlist {
					avail := "not available"
					if lending.Availability(&b) {
						avail = "available now"
					}
					fmt.Printf("  %-5d %-40s %s\n", b.ID, truncateString(b.Title, 40), avail)
				}
			}

			unread := 0
			for _, n := range profile.Notifications {
				if !n.Notified {
					unread++
				}
			}
			fmt.Printf("\nNotifications (%d unread):\n", unread)
			for _, n := range profile.Notifications {
				marker := " "
				if !n.Notified {
					marker = "*"
				}
				fmt.Printf("  %s %s\n", marker, n.Message)
			}
			return nil
		},
	}
}

// ------------------ Catalog commands ------------------

func booksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "books",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx()
			defer cancel()

			books, err := a.client.ListBooks(ctx)
			if err != nil {
				return fmt.Errorf("could not list books: %s", lending.MessageFor(err))
			}
			printBookTable(books)
			return nil
		},
	}
}

func searchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog by title or author",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			ctx, cancel := a.ctx()
			defer cancel()

			result, err := a.client.SearchBooks(ctx, query)
			if err != nil {
				return fmt.Errorf("search failed: %s", lending.MessageFor(err))
			}
			if result.Count == 0 {
				fmt.Printf("No books found matching '%s'.\n", query)
				return nil
			}
			fmt.Printf("Found %d book(s) matching '%s':\n", result.Count, query)
			printBookTable(result.Results)
			return nil
		},
	}
}

func showCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show one book with its copies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID(args[0], "book ID")
			if err != nil {
				return err
			}

			ctx, cancel := a.ctx()
			defer cancel()

			book, err := a.sm.Load(ctx, bookID)
			if err != nil {
				return fmt.Errorf("could not load book: %s", lending.MessageFor(err))
			}

			fmt.Printf("%s\n", book.Title)
			if book.AuthorsDisplay != "" {
				fmt.Printf("by %s\n", book.AuthorsDisplay)
			}
			fmt.Printf("ISBN %s | %s | %d\n", book.ISBN, book.Language, book.PublicationYear)
			fmt.Printf("Copies: %d of %d available\n\n", book.AvailableCopies, book.TotalCopies)

			if len(book.Instances) > 0 {
				fmt.Printf("%-8s %-12s %s\n", "Copy", "Status", "Due")
				fmt.Println(strings.Repeat("-", 40))
				for _, copy := range book.Instances {
					due := ""
					if copy.Status == lending.StatusBorrowed {
						if rec := openLoan(copy); rec != nil {
							due = rec.DueDate.Format("2006-01-02")
						}
					}
					fmt.Printf("%-8d %-12s %s\n", copy.ID, copy.Status, due)
				}
			}

			if !lending.Availability(book) {
				fmt.Println("\nNo copies available. Use 'library wishlist' to be notified.")
			}
			return nil
		},
	}
}

// ------------------ Circulation commands ------------------

func borrowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <copy-id>",
		Short: "Borrow a copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			copyID, err := parseID(args[0], "copy ID")
			if err != nil {
				return err
			}

			ctx, cancel := a.ctx()
			defer cancel()

			if _, err := a.requireAccess(ctx, false, "library borrow "+args[0]); err != nil {
				return err
			}

			update, err := a.sm.Borrow(ctx, copyID)
			if err != nil {
				if lending.IsKind(err, lending.KindConflict) {
					// Someone else changed the copy between our view and
					// the request. The local view is stale, not wrong.
					return fmt.Errorf("%s. Run 'library show' on the book to see current availability", lending.MessageFor(err))
				}
				return fmt.Errorf("borrow failed: %s", lending.MessageFor(err))
			}

			fmt.Printf("Borrowed copy %d.\n", copyID)
			if update.Copy != nil {
				if rec := openLoan(*update.Copy); rec != nil {
					fmt.Printf("Due back %s.\n", rec.DueDate.Format("2006-01-02"))
				}
			}
			if update.Book != nil {
				fmt.Printf("'%s' now has %d of %d copies available.\n",
					update.Book.Title, update.Book.AvailableCopies, update.Book.TotalCopies)
			}
			return nil
		},
	}
}

func returnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "return <copy-id>",
		Short: "Return a borrowed copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			copyID, err := parseID(args[0], "copy ID")
			if err != nil {
				return err
			}

			ctx, cancel := a.ctx()
			defer cancel()

			if _, err := a.requireAccess(ctx, false, "library return "+args[0]); err != nil {
				return err
			}

			update, err := a.sm.Return(ctx, copyID)
			if err != nil {
				return fmt.Errorf("return failed: %s", lending.MessageFor(err))
			}

			fmt.Printf("Returned copy %d.\n", copyID)
			if update.Book != nil {
				fmt.Printf("'%s' now has %d of %d copies available.\n",
					update.Book.Title, update.Book.AvailableCopies, update.Book.TotalCopies)
			}
			return nil
		},
	}
}

func wishlistCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "wishlist <book-id>",
		Short: "Get notified when a book becomes available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID(args[0], "book ID")
			if err != nil {
				return err
			}

			ctx, cancel := a.ctx()
			defer cancel()

			if _, err := a.requireAccess(ctx, false, "library wishlist "+args[0]); err != nil {
				return err
			}

			if err := a.sm.AddToWishlist(ctx, bookID); err != nil {
				return fmt.Errorf("could not add to wishlist: %s", lending.MessageFor(err))
			}
			fmt.Println("On your wishlist. You will be notified when a copy becomes available.")
			return nil
		},
	}
}

func waitlistCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "waitlist <book-id>",
		Short: "Show who is waiting on a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID(args[0], "book ID")
			if err != nil {
				return err
			}

			ctx, cancel := a.ctx()
			defer cancel()

			if _, err := a.requireAccess(ctx, false, "library waitlist "+args[0]); err != nil {
				return err
			}

			entries, err := a.client.WishlistsOn(ctx, bookID)
			if err != nil {
				return fmt.Errorf("could not load waitlist: %s", lending.MessageFor(err))
			}
			if len(entries) == 0 {
				fmt.Println("Nobody is waiting on this book.")
				return nil
			}
			fmt.Printf("%-10s %-30s %s\n", "Position", "User", "Since")
			fmt.Println(strings.Repeat("-", 60))
			for i, e := range entries {
				fmt.Printf("%-10d %-30s %s\n", i+1, truncateString(e.Username, 30), e.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

// ------------------ Staff commands ------------------

func reportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Loan report across all copies (staff)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx()
			defer cancel()

			if _, err := a.requireAccess(ctx, true, "library report"); err != nil {
				return err
			}

			rows, err := a.client.Report(ctx)
			if err != nil {
				return fmt.Errorf("could not load report: %s", lending.MessageFor(err))
			}
			if len(rows) == 0 {
				fmt.Println("No loans to report.")
				return nil
			}

			fmt.Printf("%-5s %-30s %-8s %-12s %-20s %-12s %s\n",
				"Book", "Title", "Copy", "Status", "Borrower", "Borrowed", "Due")
			fmt.Println(strings.Repeat("-", 105))
			for _, r := range rows {
				fmt.Printf("%-5d %-30s %-8d %-12s %-20s %-12s %s\n",
					r.BookID,
					truncateString(r.BookTitle, 30),
					r.CopyID,
					r.Status,
					truncateString(r.Borrower, 20),
					r.BorrowedDate.Format("2006-01-02"),
					r.DueDate.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func uploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <catalog.csv>",
		Short: "Upload a catalog CSV (staff)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(args[0])
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			ctx, cancel := a.ctx()
			defer cancel()

			if _, err := a.requireAccess(ctx, true, "library upload "+path); err != nil {
				return err
			}

			result, err := a.client.UploadCSV(ctx, f.Name(), f)
			if err != nil {
				printValidation(err)
				return fmt.Errorf("upload failed: %s", lending.MessageFor(err))
			}

			fmt.Println(result.Message)
			if len(result.Errors) > 0 {
				fmt.Printf("%d row(s) had problems:\n", len(result.Errors))
				for _, rowErr := range result.Errors {
					fmt.Printf("  - %s\n", rowErr)
				}
			}
			return nil
		},
	}
}

// ------------------ Output helpers ------------------

func printBookTable(books []lending.Book) {
	if len(books) == 0 {
		fmt.Println("No books in the catalog.")
		return
	}
	fmt.Printf("%-5s %-35s %-25s %-15s %s\n", "ID", "Title", "Authors", "ISBN", "Available")
	fmt.Println(strings.Repeat("-", 95))
	for _, b := range books {
		fmt.Printf("%-5d %-35s %-25s %-15s %d/%d\n",
			b.ID,
			truncateString(b.Title, 35),
			truncateString(authorsOf(b), 25),
			b.ISBN,
			b.AvailableCopies, b.TotalCopies)
	}
}

func authorsOf(b lending.Book) string {
	if b.AuthorsDisplay != "" {
		return b.AuthorsDisplay
	}
	names := make([]string, 0, len(b.Authors))
	for _, a := range b.Authors {
		names = append(names, strings.TrimSpace(a.GivenNames+" "+a.Surname))
	}
	return strings.Join(names, ", ")
}

// openLoan finds the loan record still open on a copy.
func openLoan(copy lending.BookCopy) *lending.LoanRecord {
	for i := range copy.History {
		if !copy.History[i].IsReturned {
			return &copy.History[i]
		}
	}
	return nil
}

// printValidation itemizes field-level detail from a validation error.
func printValidation(err error) {
	var apiErr *lending.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Fields) == 0 {
		return
	}
	for field, problems := range apiErr.Fields {
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", field, p)
		}
	}
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength-3] + "..."
}
