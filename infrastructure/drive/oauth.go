package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// callbackAddr is where the browser is redirected after consent
const callbackAddr = "localhost:8085"

const callbackPage = "<html><body><h1>Authorization successful!</h1><p>You can close this window and return to the terminal.</p></body></html>"

// LoadOAuthConfig reads an OAuth client credentials JSON for Drive access
func LoadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read OAuth credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse OAuth credentials: %w", err)
	}
	return config, nil
}

// ConsentFlow runs the installed-app OAuth flow: it serves a loopback
// callback, sends the user to the consent page and exchanges the returned
// code for a token
type ConsentFlow struct {
	Addr string                 // loopback listen address; port 0 picks a free one
	Open func(url string) error // shows the consent page to the user
}

// DefaultConsentFlow listens on localhost:8085 and opens the system browser
func DefaultConsentFlow() *ConsentFlow {
	return &ConsentFlow{Addr: callbackAddr, Open: openBrowser}
}

// Authorize runs the default consent flow and returns a token carrying a
// refresh token
func Authorize(ctx context.Context, config *oauth2.Config, out io.Writer) (*oauth2.Token, error) {
	return DefaultConsentFlow().Run(ctx, config, out)
}

type callbackResult struct {
	code string
	err  error
}

// Run performs the flow. config is not modified.
func (f *ConsentFlow) Run(ctx context.Context, config *oauth2.Config, out io.Writer) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", f.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for the OAuth callback: %w", err)
	}

	cfg := *config
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/callback"
	state := uuid.NewString()

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		res := parseCallback(r, state)
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprint(w, callbackPage)
		}
		// only the first callback counts
		select {
		case results <- res:
		default:
		}
	})
	server := &http.Server{Handler: mux}
	go server.Serve(ln)
	defer server.Shutdown(context.Background())

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Opening browser for Google authentication...")
	fmt.Fprintln(out, "If the browser doesn't open, please visit this URL:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, authURL)
	fmt.Fprintln(out)

	if f.Open != nil {
		if err := f.Open(authURL); err != nil {
			fmt.Fprintf(out, "Could not open a browser: %v\n", err)
		}
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	token, err := cfg.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("unable to exchange auth code: %w", err)
	}

	fmt.Fprintln(out, "Authentication successful!")
	return token, nil
}

func parseCallback(r *http.Request, state string) callbackResult {
	q := r.URL.Query()
	switch {
	case q.Get("state") != state:
		return callbackResult{err: errors.New("callback state does not match the request")}
	case q.Get("error") != "":
		return callbackResult{err: fmt.Errorf("consent was not granted: %s", q.Get("error"))}
	case q.Get("code") == "":
		return callbackResult{err: errors.New("no code in callback")}
	}
	return callbackResult{code: q.Get("code")}
}

// openBrowser opens a URL in the default browser
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		if _, err := exec.LookPath("xdg-open"); err == nil {
			cmd = exec.Command("xdg-open", url)
		} else if _, err := exec.LookPath("wslview"); err == nil {
			// WSL
			cmd = exec.Command("wslview", url)
		}
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	}

	if cmd == nil {
		return fmt.Errorf("no browser opener for %s", runtime.GOOS)
	}
	return cmd.Start()
}
