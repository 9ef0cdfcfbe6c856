package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/google/uuid"
)

// Auth

func (c *Client) SignUp(ctx context.Context, email, password, fullName string) (*Session, error) {
	var s Session
	if _, err := c.Do(ctx, http.MethodPost, "/auth/signup", map[string]string{
		"email": email, "password": password, "full_name": fullName,
	}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	if _, err := c.Do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email": email, "password": password,
	}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	return err
}

func (c *Client) RequestMagicLink(ctx context.Context, email string) error {
	_, err := c.Do(ctx, http.MethodPost, "/auth/magic-link", map[string]string{"email": email}, nil)
	return err
}

func (c *Client) VerifyMagicLink(ctx context.Context, token string) (*Session, error) {
	var s Session
	if _, err := c.Do(ctx, http.MethodPost, "/auth/magic-link/verify", map[string]string{"token": token}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := c.Do(ctx, http.MethodPost, "/auth/password/reset", map[string]string{"email": email}, nil)
	return err
}

func (c *Client) CompletePasswordReset(ctx context.Context, token, password string) error {
	_, err := c.Do(ctx, http.MethodPost, "/auth/password/reset/complete", map[string]string{
		"token": token, "password": password,
	}, nil)
	return err
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) (*Session, error) {
	var s Session
	if _, err := c.Do(ctx, http.MethodPut, "/auth/password", map[string]string{
		"current_password": current, "new_password": next,
	}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var out struct {
		User *User `json:"user"`
	}
	if _, err := c.Do(ctx, http.MethodGet, "/auth/session", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) UpdateProfile(ctx context.Context, u ProfileUpdate) (*User, error) {
	var out struct {
		User *User `json:"user"`
	}
	if _, err := c.Do(ctx, http.MethodPut, "/auth/me", u, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) VerificationStatus(ctx context.Context) (*VerificationStatus, error) {
	var v VerificationStatus
	if _, err := c.Do(ctx, http.MethodGet, "/auth/email/verification", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) SendVerification(ctx context.Context) error {
	_, err := c.Do(ctx, http.MethodPost, "/auth/email/verification/send", nil, nil)
	return err
}

func (c *Client) VerifyEmail(ctx context.Context, token string) (*VerificationStatus, error) {
	var v VerificationStatus
	if _, err := c.Do(ctx, http.MethodPost, "/auth/email/verification/verify", map[string]string{"token": token}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Organizations

func orgPath(orgID uuid.UUID, suffix string) string {
	return "/orgs/" + orgID.String() + suffix
}

func (c *Client) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var out struct {
		Organizations []Organization `json:"organizations"`
	}
	_, err := c.Do(ctx, http.MethodGet, "/orgs", nil, &out)
	return out.Organizations, err
}

func (c *Client) GetOrganization(ctx context.Context, orgID uuid.UUID) (*OrganizationDetail, error) {
	var d OrganizationDetail
	if _, err := c.Do(ctx, http.MethodGet, orgPath(orgID, ""), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) CreateOrganization(ctx context.Context, in CreateOrganizationInput) (*Organization, error) {
	var out struct {
		Organization *Organization `json:"organization"`
	}
	if _, err := c.Do(ctx, http.MethodPost, "/orgs", in, &out); err != nil {
		return nil, err
	}
	return out.Organization, nil
}

func (c *Client) UpdateOrganization(ctx context.Context, orgID uuid.UUID, in UpdateOrganizationInput) (*Organization, error) {
	var out struct {
		Organization *Organization `json:"organization"`
	}
	if _, err := c.Do(ctx, http.MethodPut, orgPath(orgID, ""), in, &out); err != nil {
		return nil, err
	}
	return out.Organization, nil
}

func (c *Client) DeleteOrganization(ctx context.Context, orgID uuid.UUID) error {
	_, err := c.Do(ctx, http.MethodDelete, orgPath(orgID, ""), nil, nil)
	return err
}

func (c *Client) SetDefaultOrganization(ctx context.Context, orgID uuid.UUID) error {
	_, err := c.Do(ctx, http.MethodPost, orgPath(orgID, "/default"), nil, nil)
	return err
}

func (c *Client) ListMembers(ctx context.Context, orgID uuid.UUID) ([]Member, error) {
	var out struct {
		Members []Member `json:"members"`
	}
	_, err := c.Do(ctx, http.MethodGet, orgPath(orgID, "/members"), nil, &out)
	return out.Members, err
}

func (c *Client) AddMember(ctx context.Context, orgID uuid.UUID, email string, role roles.Role) (*Member, error) {
	var out struct {
		Member *Member `json:"member"`
	}
	if _, err := c.Do(ctx, http.MethodPost, orgPath(orgID, "/members"), map[string]any{"email": email, "role": role}, &out); err != nil {
		return nil, err
	}
	return out.Member, nil
}

func (c *Client) UpdateMemberRole(ctx context.Context, orgID, userID uuid.UUID, role roles.Role) error {
	_, err := c.Do(ctx, http.MethodPut, orgPath(orgID, "/members/"+userID.String()), map[string]any{"role": role}, nil)
	return err
}

func (c *Client) RemoveMember(ctx context.Context, orgID, userID uuid.UUID) error {
	_, err := c.Do(ctx, http.MethodDelete, orgPath(orgID, "/members/"+userID.String()), nil, nil)
	return err
}

func (c *Client) ListInvitations(ctx context.Context, orgID uuid.UUID, status string) ([]Invitation, error) {
	path := orgPath(orgID, "/invitations")
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Invitations []Invitation `json:"invitations"`
	}
	_, err := c.Do(ctx, http.MethodGet, path, nil, &out)
	return out.Invitations, err
}

func (c *Client) CreateInvitation(ctx context.Context, orgID uuid.UUID, email string, role roles.Role) (*Invitation, error) {
	var out struct {
		Invitation *Invitation `json:"invitation"`
	}
	if _, err := c.Do(ctx, http.MethodPost, orgPath(orgID, "/invitations"), map[string]any{"email": email, "role": role}, &out); err != nil {
		return nil, err
	}
	return out.Invitation, nil
}

func (c *Client) CancelInvitation(ctx context.Context, orgID, inviteID uuid.UUID) error {
	_, err := c.Do(ctx, http.MethodDelete, orgPath(orgID, "/invitations/"+inviteID.String()), nil, nil)
	return err
}

func (c *Client) PreviewInvitation(ctx context.Context, token string) (*InvitationPreview, error) {
	var out struct {
		Invitation *InvitationPreview `json:"invitation"`
	}
	if _, err := c.Do(ctx, http.MethodGet, "/invitations/"+url.PathEscape(token), nil, &out); err != nil {
		return nil, err
	}
	return out.Invitation, nil
}

func (c *Client) AcceptInvitation(ctx context.Context, token string) (*AcceptedInvitation, error) {
	var a AcceptedInvitation
	if _, err := c.Do(ctx, http.MethodPost, "/invitations/"+url.PathEscape(token)+"/accept", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) DeclineInvitation(ctx context.Context, token string) error {
	_, err := c.Do(ctx, http.MethodPost, "/invitations/"+url.PathEscape(token)+"/decline", nil, nil)
	return err
}

// Documents. These are scoped to the identity's active organization.

func docPath(id uuid.UUID, suffix string) string {
	return "/documents/" + id.String() + suffix
}

func (c *Client) ListDocuments(ctx context.Context, q DocumentQuery) ([]Document, Meta, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.DocumentType != "" {
		v.Set("type", q.DocumentType)
	}
	path := "/documents"
	if enc := v.Encode(); enc != "" {
		path += "?" + enc
	}

	var docs []Document
	meta, err := c.Do(ctx, http.MethodGet, path, nil, &docs)
	if err != nil {
		return nil, Meta{}, err
	}
	if meta == nil {
		meta = &Meta{Total: len(docs)}
	}
	return docs, *meta, nil
}

func (c *Client) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var out struct {
		Document *Document `json:"document"`
	}
	if _, err := c.Do(ctx, http.MethodGet, docPath(id, ""), nil, &out); err != nil {
		return nil, err
	}
	return out.Document, nil
}

func (c *Client) UploadDocument(ctx context.Context, filename, documentType string, file io.Reader) (*Document, error) {
	fields := map[string]string{}
	if documentType != "" {
		fields["document_type"] = documentType
	}
	var out struct {
		Document *Document `json:"document"`
	}
	if err := c.Upload(ctx, "/documents", "file", filename, file, fields, &out); err != nil {
		return nil, err
	}
	return out.Document, nil
}

func (c *Client) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	_, err := c.Do(ctx, http.MethodDelete, docPath(id, ""), nil, nil)
	return err
}

func (c *Client) ProcessDocument(ctx context.Context, id uuid.UUID) (*ProcessResult, error) {
	var p ProcessResult
	if _, err := c.Do(ctx, http.MethodPost, docPath(id, "/process"), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ExtractedData(ctx context.Context, id uuid.UUID) (*DataVersion, error) {
	var out struct {
		Version *DataVersion `json:"version"`
	}
	if _, err := c.Do(ctx, http.MethodGet, docPath(id, "/extracted-data"), nil, &out); err != nil {
		return nil, err
	}
	return out.Version, nil
}

func (c *Client) UpdateExtractedData(ctx context.Context, id uuid.UUID, data json.RawMessage) (*DataVersion, error) {
	var out struct {
		Version *DataVersion `json:"version"`
	}
	if _, err := c.Do(ctx, http.MethodPut, docPath(id, "/extracted-data"), map[string]json.RawMessage{"extracted_data": data}, &out); err != nil {
		return nil, err
	}
	return out.Version, nil
}

func (c *Client) DataVersions(ctx context.Context, id uuid.UUID) ([]DataVersion, error) {
	var out struct {
		Versions []DataVersion `json:"versions"`
	}
	_, err := c.Do(ctx, http.MethodGet, docPath(id, "/versions"), nil, &out)
	return out.Versions, err
}

func (c *Client) DocumentJobs(ctx context.Context, id uuid.UUID) ([]JobStatus, error) {
	var out struct {
		Jobs []JobStatus `json:"jobs"`
	}
	_, err := c.Do(ctx, http.MethodGet, docPath(id, "/jobs"), nil, &out)
	return out.Jobs, err
}

// JobStatus fetches one processing job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var s JobStatus
	if _, err := c.Do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Analytics

func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	if _, err := c.Do(ctx, http.MethodGet, "/analytics/dashboard", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) DocumentStats(ctx context.Context, period string) ([]PeriodStats, error) {
	path := "/analytics/documents"
	if period != "" {
		path += "?period=" + url.QueryEscape(period)
	}
	var out struct {
		Series []PeriodStats `json:"series"`
	}
	_, err := c.Do(ctx, http.MethodGet, path, nil, &out)
	return out.Series, err
}

func (c *Client) DocumentTypes(ctx context.Context) ([]TypeCount, error) {
	var out struct {
		DocumentTypes []TypeCount `json:"document_types"`
	}
	_, err := c.Do(ctx, http.MethodGet, "/analytics/document-types", nil, &out)
	return out.DocumentTypes, err
}
