package util

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
)

func SetupInterruptHandler(downloadDir string) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		fmt.Println("\nInterrupt received. Cleaning up...")

		CleanupDownloadDir(downloadDir)
		fmt.Println("Exiting due to interrupt.")

		os.Exit(1)
	}()
}

// CleanupDownloadDir removes every chapter folder and loose document below
// the downloads root. Runs on daemon start and on interrupt; session state
// is in-memory only, so anything on disk is leftover.
func CleanupDownloadDir(downloadDir string) {
	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		return
	}

	for _, e := range entries {
		full := filepath.Join(downloadDir, e.Name())

		if e.IsDir() && strings.HasPrefix(e.Name(), "chapter-") {
			if err := os.RemoveAll(full); err != nil {
				fmt.Printf("Error cleaning up %s: %v\n", full, err)
			}
			continue
		}

		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			if err := os.Remove(full); err != nil {
				fmt.Printf("Error cleaning up %s: %v\n", full, err)
			}
		}
	}
}

func CleanupFolder(folder string) {
	_ = os.RemoveAll(folder)
}
