// Package remote is a typed client for the buddypay HTTP API. Error bodies
// are mapped back to ledger error kinds so callers can use errors.Is the
// same way they would against the in-process services.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"buddypay.org/internal/ledger"
)

// Client talks to one API base URL on behalf of one bearer token.
type Client struct {
	base  string
	http  *http.Client
	token string
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// As returns a copy of the client that authenticates with token.
func (c *Client) As(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Token is the response of the development token endpoint.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
}

// AccountView is an account with its formatted balance.
type AccountView struct {
	ledger.Account
	BalanceDisplay string `json:"balance_display"`
}

// Limits is the caller's spend for the current day.
type Limits struct {
	SpentToday int64  `json:"spent_today"`
	DailyLimit int64  `json:"daily_limit"`
	Remaining  int64  `json:"remaining"`
	Display    string `json:"display"`
}

type history struct {
	Items []ledger.Transaction `json:"items"`
}

// Register signs a new user up.
func (c *Client) Register(ctx context.Context, email, displayName string) (ledger.User, error) {
	var u ledger.User
	err := c.do(ctx, http.MethodPost, "/v1/auth/register", map[string]string{
		"email":        email,
		"display_name": displayName,
	}, &u)
	return u, err
}

// IssueToken obtains a development token for email.
func (c *Client) IssueToken(ctx context.Context, email string) (Token, error) {
	var t Token
	err := c.do(ctx, http.MethodPost, "/v1/auth/token", map[string]string{"email": email}, &t)
	return t, err
}

// Me returns the caller with its role.
func (c *Client) Me(ctx context.Context) (ledger.Principal, error) {
	var p ledger.Principal
	err := c.do(ctx, http.MethodGet, "/v1/me", nil, &p)
	return p, err
}

// Account returns the caller's account.
func (c *Client) Account(ctx context.Context) (AccountView, error) {
	var a AccountView
	err := c.do(ctx, http.MethodGet, "/v1/me/account", nil, &a)
	return a, err
}

// Limits returns the caller's daily spend.
func (c *Client) Limits(ctx context.Context) (Limits, error) {
	var l Limits
	err := c.do(ctx, http.MethodGet, "/v1/me/limits", nil, &l)
	return l, err
}

// AddRelation links the caller and the user with email in both directions.
func (c *Client) AddRelation(ctx context.Context, email string) (ledger.User, error) {
	var u ledger.User
	err := c.do(ctx, http.MethodPost, "/v1/me/relations", map[string]string{"email": email}, &u)
	return u, err
}

// LinkBankAccount attaches an external bank account to the caller.
func (c *Client) LinkBankAccount(ctx context.Context, number string, opening int64) (ledger.BankAccount, error) {
	var ba ledger.BankAccount
	err := c.do(ctx, http.MethodPost, "/v1/me/bank-accounts", map[string]any{
		"external_number": number,
		"opening_balance": opening,
	}, &ba)
	return ba, err
}

// Deposit moves amount from the bank account into the caller's account.
func (c *Client) Deposit(ctx context.Context, bankAccountID string, amount int64) (AccountView, error) {
	return c.bankMove(ctx, bankAccountID, "deposit", amount)
}

// Withdraw moves amount from the caller's account to the bank account.
func (c *Client) Withdraw(ctx context.Context, bankAccountID string, amount int64) (AccountView, error) {
	return c.bankMove(ctx, bankAccountID, "withdraw", amount)
}

func (c *Client) bankMove(ctx context.Context, id, op string, amount int64) (AccountView, error) {
	var a AccountView
	p := "/v1/me/bank-accounts/" + url.PathEscape(id) + "/" + op
	err := c.do(ctx, http.MethodPost, p, map[string]int64{"amount": amount}, &a)
	return a, err
}

// Transfer pays amount to receiverID.
func (c *Client) Transfer(ctx context.Context, receiverID string, amount int64, description string) (ledger.Receipt, error) {
	var rc ledger.Receipt
	err := c.do(ctx, http.MethodPost, "/v1/transactions", map[string]any{
		"receiver_id": receiverID,
		"amount":      amount,
		"description": description,
	}, &rc)
	return rc, err
}

// Transaction fetches one transaction the caller is a party to.
func (c *Client) Transaction(ctx context.Context, id string) (ledger.Transaction, error) {
	var tx ledger.Transaction
	err := c.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(id), nil, &tx)
	return tx, err
}

// Cancel cancels a transaction the caller sent.
func (c *Client) Cancel(ctx context.Context, id string) (ledger.Transaction, error) {
	var tx ledger.Transaction
	err := c.do(ctx, http.MethodPost, "/v1/transactions/"+url.PathEscape(id)+"/cancel", nil, &tx)
	return tx, err
}

// History lists the caller's transactions.
func (c *Client) History(ctx context.Context) ([]ledger.Transaction, error) {
	var h history
	if err := c.do(ctx, http.MethodGet, "/v1/me/transactions", nil, &h); err != nil {
		return nil, err
	}
	return h.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ledger.NewError(ledger.ErrUnavailable, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id"`
}

var codeKinds = map[string]error{
	"not_found":            ledger.ErrNotFound,
	"invalid_argument":     ledger.ErrInvalidArgument,
	"insufficient_balance": ledger.ErrInsufficientBalance,
	"already_exists":       ledger.ErrAlreadyExists,
	"save_failed":          ledger.ErrSave,
	"delete_failed":        ledger.ErrDelete,
	"illegal_state":        ledger.ErrIllegalState,
	"invalid_balance":      ledger.ErrInvalidBalance,
	"unavailable":          ledger.ErrUnavailable,
}

// StatusError is returned for failures that carry no ledger code
// (auth, routing, rate limiting).
type StatusError struct {
	Status    int
	Msg       string
	RequestID string
}

func (e *StatusError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("http %d: %s (request %s)", e.Status, e.Msg, e.RequestID)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Msg)
}

func decodeError(resp *http.Response) error {
	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
		eb.Error = strings.TrimSpace(string(raw))
		if eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
	}
	return mapLedgerError(resp.StatusCode, eb)
}

func mapLedgerError(status int, eb errorBody) error {
	kind, ok := codeKinds[eb.Code]
	if !ok {
		return &StatusError{Status: status, Msg: eb.Error, RequestID: eb.RequestID}
	}
	le := ledger.NewError(kind, "%s", eb.Error)
	if eb.Reason == "daily_limit_exceeded" {
		le.Reason = ledger.ErrDailyLimitExceeded
	}
	return le
}
