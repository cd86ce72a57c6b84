// Package cli implements "webproxy ctl", a thin HTTP client for the
// running proxy's control API (minus CA export: this proxy never
// terminates TLS, so there is no certificate authority to export).
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"syscall"

	"webproxy/internal/pidfile"
)

// Client talks to a running proxy's control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Client for the control API listening on port.
func NewClient(port int) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{},
	}
}

// Run executes a command based on the provided arguments.
func Run(port int, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("no command provided")
	}

	client := NewClient(port)
	command := args[0]

	switch command {
	case "status":
		return client.GetStatus()
	case "purge":
		if len(args) < 2 {
			return fmt.Errorf("domain required for purge command")
		}
		return client.PurgeDomain(args[1])
	case "purge-url":
		if len(args) < 2 {
			return fmt.Errorf("url required for purge-url command")
		}
		return client.PurgeURL(args[1])
	case "purge-all":
		fmt.Print("Are you sure you want to clear the entire page cache? [y/N] ")
		var response string
		fmt.Scanln(&response)
		if response == "y" || response == "Y" {
			return client.PurgeAll()
		}
		fmt.Println("Operation cancelled.")
		return nil
	case "stop":
		return stopDaemon()
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func stopDaemon() error {
	pid, err := pidfile.Read()
	if err != nil {
		return fmt.Errorf("could not read pidfile: %w. Is webproxy running?", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process with pid %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", pid, err)
	}

	fmt.Println("webproxy stopped.")
	// The deferred pidfile.Remove() in the server will handle cleanup.
	return nil
}

// GetStatus fetches and displays the proxy's cache statistics.
func (c *Client) GetStatus() error {
	resp, err := c.httpClient.Get(c.baseURL + "/stats")
	if err != nil {
		return fmt.Errorf("could not connect to webproxy control API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned non-200 status: %s\n%s", resp.Status, string(body))
	}

	var stats map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("could not decode server response: %w", err)
	}

	fmt.Println("webproxy status:")
	fmt.Printf("  Uptime: %.0f seconds\n", stats["uptime_seconds"])
	fmt.Printf("  Page cache entries: %.0f\n", stats["page_cache_size"])
	fmt.Printf("  Page cache hits: %.0f\n", stats["page_cache_hits"])
	fmt.Printf("  Page cache misses: %.0f\n", stats["page_cache_misses"])
	fmt.Printf("  Page cache evictions: %.0f\n", stats["page_cache_evictions"])
	fmt.Printf("  Address cache entries: %.0f\n", stats["addr_cache_size"])
	fmt.Printf("  Address cache hits: %.0f\n", stats["addr_cache_hits"])
	fmt.Printf("  Address cache misses: %.0f\n", stats["addr_cache_misses"])

	return nil
}

// PurgeAll sends a request to purge the entire page cache.
func (c *Client) PurgeAll() error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/purge/all", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Println("Page cache purged.")
	return nil
}

// PurgeURL sends a request to purge a single cached URL.
func (c *Client) PurgeURL(url string) error {
	body, _ := json.Marshal(map[string]string{"url": url})
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/purge/url", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	if purged, _ := result["purged"].(bool); purged {
		fmt.Printf("Successfully purged URL: %s\n", url)
	} else {
		fmt.Printf("URL not found in cache: %s\n", url)
	}
	return nil
}

// PurgeDomain sends a request to purge every cached entry for a domain.
func (c *Client) PurgeDomain(domain string) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/purge/domain/"+domain, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	fmt.Printf("Successfully purged %v entries for domain %s.\n", result["purged_count"], domain)
	return nil
}
