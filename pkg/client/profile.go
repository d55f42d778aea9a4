package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"gigworks-controlplane/pkg/config"
	"gigworks-controlplane/pkg/errutil"

	"github.com/go-resty/resty/v2"
)

// Profile is the minimal profile used for attribution on gigs and
// notifications.
type Profile struct {
	ID          string `json:"id"`
	CompanyName string `json:"company_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar"`
	Verified    bool   `json:"verified"`
}

// DisplayName prefers company name, then first+last, then username.
func (p Profile) DisplayName() string {
	if p.CompanyName != "" {
		return p.CompanyName
	}
	if full := strings.TrimSpace(p.FirstName + " " + p.LastName); full != "" {
		return full
	}
	return p.Username
}

type ProfileAPI interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

type profileClient struct {
	http *resty.Client
}

func NewProfileClient(cfg *config.Config) ProfileAPI {
	return &profileClient{
		http: resty.New().
			SetBaseURL(cfg.ProfileService.URL).
			SetTimeout(cfg.ProfileService.Timeout),
	}
}

func (c *profileClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var out Profile

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/profiles/%s", userID))
	if err != nil {
		return nil, errutil.BadGateway("profile service unreachable", errutil.WithErr(err))
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, errutil.NotFound("profile not found")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errutil.BadGateway(fmt.Sprintf("profile service returned %d", resp.StatusCode()))
	}

	return &out, nil
}
