package antigravity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/agpool/agpool/internal/browser"
	"github.com/agpool/agpool/internal/config"
	"github.com/agpool/agpool/internal/misc"
	"github.com/agpool/agpool/internal/util"
	log "github.com/sirupsen/logrus"
)

// loginTimeout bounds the wait for the OAuth callback. A login attempt that
// receives no callback within this window fails instead of hanging forever.
const loginTimeout = 5 * time.Minute

const callbackSuccessPage = `<html>
<head><title>Authentication Complete</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 50px;">
<h1>Authentication Complete</h1>
<p>You can close this tab and return to the terminal.</p>
</body>
</html>`

// ProvisionedAccount is the result of a successful interactive login: a fully
// populated credential set ready to be added to the pool.
type ProvisionedAccount struct {
	Email        string
	RefreshToken string
	AccessToken  string
	ExpiresIn    int64
	ProjectID    string
	Tier         string
}

// LoginOptions customizes the interactive OAuth flow.
type LoginOptions struct {
	NoBrowser    bool
	CallbackPort int
	ProjectID    string
	Prompt       func(string) (string, error)
}

type callbackResult struct {
	Code  string
	State string
	Error string
}

// Login runs the complete interactive OAuth flow: PKCE pair generation,
// browser hand-off, one-shot localhost callback, state verification, code
// exchange, and best-effort project/tier discovery. A failure aborts only
// this login attempt and never touches already-stored accounts.
func (o *AntigravityAuth) Login(ctx context.Context, cfg *config.Config, opts *LoginOptions) (*ProvisionedAccount, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		opts = &LoginOptions{}
	}

	callbackPort := CallbackPort
	if opts.CallbackPort > 0 {
		callbackPort = opts.CallbackPort
	} else if cfg != nil && cfg.CallbackPort > 0 {
		callbackPort = cfg.CallbackPort
	}

	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := EncodeState(StatePayload{Verifier: verifier, ProjectID: opts.ProjectID})
	if err != nil {
		return nil, err
	}

	srv, port, cbChan, errServer := startCallbackServer(callbackPort)
	if errServer != nil {
		return nil, fmt.Errorf("antigravity login: failed to start callback server: %w", errServer)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	redirectURI := fmt.Sprintf("http://localhost:%d/oauth-callback", port)
	authURL := o.BuildAuthURL(state, challenge, redirectURI)

	if !opts.NoBrowser {
		fmt.Println("Opening browser for antigravity authentication")
		if !browser.IsAvailable() {
			log.Warn("No browser available; please open the URL manually")
			util.PrintSSHTunnelInstructions(port)
			fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
		} else if errOpen := browser.OpenURL(authURL); errOpen != nil {
			log.Warnf("Failed to open browser automatically: %v", errOpen)
			util.PrintSSHTunnelInstructions(port)
			fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
		}
	} else {
		util.PrintSSHTunnelInstructions(port)
		fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
	}

	fmt.Println("Waiting for authentication callback...")

	cbRes, errWait := waitForCallback(cbChan, opts.Prompt)
	if errWait != nil {
		return nil, errWait
	}

	if cbRes.Error != "" {
		return nil, fmt.Errorf("antigravity login: authentication failed: %s", cbRes.Error)
	}
	if cbRes.Code == "" {
		return nil, fmt.Errorf("antigravity login: missing authorization code")
	}
	decoded, errState := DecodeState(cbRes.State)
	if errState != nil {
		return nil, fmt.Errorf("antigravity login: invalid state token: %w", errState)
	}
	if decoded.Verifier != verifier {
		return nil, fmt.Errorf("antigravity login: state verifier mismatch")
	}

	tokenResp, errToken := o.ExchangeCodeForTokens(ctx, cbRes.Code, verifier, redirectURI)
	if errToken != nil {
		return nil, errToken
	}
	if strings.TrimSpace(tokenResp.RefreshToken) == "" {
		return nil, fmt.Errorf("antigravity login: response missing refresh token")
	}

	email, errInfo := o.FetchUserInfo(ctx, tokenResp.AccessToken)
	if errInfo != nil {
		log.Warnf("antigravity login: fetch user info failed: %v", errInfo)
	}

	info := o.FetchAccountInfo(ctx, tokenResp.AccessToken)
	projectID := decoded.ProjectID
	if projectID == "" {
		projectID = info.ProjectID
	}

	return &ProvisionedAccount{
		Email:        email,
		RefreshToken: tokenResp.RefreshToken,
		AccessToken:  tokenResp.AccessToken,
		ExpiresIn:    tokenResp.ExpiresIn,
		ProjectID:    projectID,
		Tier:         info.Tier,
	}, nil
}

// waitForCallback blocks until the callback server delivers a result, the
// user pastes a callback URL via the prompt, or the login window times out.
func waitForCallback(cbChan <-chan callbackResult, prompt func(string) (string, error)) (callbackResult, error) {
	timeoutTimer := time.NewTimer(loginTimeout)
	defer timeoutTimer.Stop()

	var manualPromptTimer *time.Timer
	var manualPromptC <-chan time.Time
	if prompt != nil {
		manualPromptTimer = time.NewTimer(15 * time.Second)
		manualPromptC = manualPromptTimer.C
		defer manualPromptTimer.Stop()
	}

	for {
		select {
		case res := <-cbChan:
			return res, nil
		case <-manualPromptC:
			manualPromptC = nil
			select {
			case res := <-cbChan:
				return res, nil
			default:
			}
			input, errPrompt := prompt("Paste the antigravity callback URL (or press Enter to keep waiting): ")
			if errPrompt != nil {
				return callbackResult{}, errPrompt
			}
			parsed, errParse := misc.ParseOAuthCallback(input)
			if errParse != nil {
				return callbackResult{}, errParse
			}
			if parsed == nil {
				continue
			}
			return callbackResult{Code: parsed.Code, State: parsed.State, Error: parsed.Error}, nil
		case <-timeoutTimer.C:
			return callbackResult{}, fmt.Errorf("antigravity login: authentication timed out")
		}
	}
}

// startCallbackServer binds the localhost callback listener and serves exactly
// one path. Any other path returns 404; a callback without code and state
// returns 400.
func startCallbackServer(port int) (*http.Server, int, <-chan callbackResult, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, 0, nil, err
	}
	port = listener.Addr().(*net.TCPAddr).Port
	resultCh := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth-callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := callbackResult{
			Code:  strings.TrimSpace(q.Get("code")),
			State: strings.TrimSpace(q.Get("state")),
			Error: strings.TrimSpace(q.Get("error")),
		}
		if res.Error == "" && (res.Code == "" || res.State == "") {
			http.Error(w, "Missing code or state parameter.", http.StatusBadRequest)
			return
		}
		select {
		case resultCh <- res:
		default:
		}
		if res.Code != "" && res.Error == "" {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(callbackSuccessPage))
		} else {
			_, _ = w.Write([]byte("<h1>Login failed</h1><p>Please check the CLI output.</p>"))
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	srv := &http.Server{Handler: mux}
	go func() {
		if errServe := srv.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Warnf("antigravity callback server error: %v", errServe)
		}
	}()

	return srv, port, resultCh, nil
}
