// Command bulk_upload pushes a directory of catalog CSV files to the
// lending service in one sitting. Staff tooling for initial catalog
// loads; the interactive CLI's 'upload' command covers the single-file
// case.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"library-client/lending"
)

func main() {
	dir := "catalogs"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	cfg, err := lending.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	state, err := lending.NewStateFile(cfg.StateDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening state file: %v\n", err)
		os.Exit(1)
	}
	defer state.Close()

	session := lending.NewSession()
	token, _, err := state.LoadSession()
	if err != nil || token == "" {
		fmt.Fprintln(os.Stderr, "No stored session. Run 'library login' first.")
		os.Exit(1)
	}
	session.SetToken(token)
	session.OnCleared(func() {
		if err := state.ClearSession(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to clear persisted session: %v\n", err)
		}
	})

	gw := lending.NewGateway(cfg, session)
	gw.OnUnauthorized(func() {
		fmt.Fprintln(os.Stderr, "Session expired mid-upload. Run 'library login' and retry.")
	})
	client := lending.NewClient(gw)

	files, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading catalog directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Uploading catalogs from %s...\n", dir)

	successCount := 0
	errorCount := 0
	rowErrors := 0

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".csv") {
			continue
		}

		path := filepath.Join(dir, file.Name())
		fmt.Printf("Uploading: %s... ", file.Name())

		f, err := os.Open(path)
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}

		result, err := client.UploadCSV(context.Background(), file.Name(), f)
		f.Close()
		if err != nil {
			fmt.Printf("ERROR - %s\n", lending.MessageFor(err))
			errorCount++
			if lending.IsKind(err, lending.KindUnauthorized) || lending.IsKind(err, lending.KindForbidden) {
				// No point pushing the rest of the directory.
				break
			}
			continue
		}

		fmt.Printf("OK - %s\n", result.Message)
		successCount++
		for _, rowErr := range result.Errors {
			fmt.Printf("    row error: %s\n", rowErr)
			rowErrors++
		}
	}

	fmt.Printf("\nUpload complete!\n")
	fmt.Printf("Files accepted: %d\n", successCount)
	fmt.Printf("Files failed: %d\n", errorCount)
	fmt.Printf("Row errors reported: %d\n", rowErrors)
	if errorCount > 0 {
		os.Exit(1)
	}
}
