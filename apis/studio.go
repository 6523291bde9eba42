// Copyright 2021-2022 The adstudio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/adstudio/common"
	"github.com/alwitt/adstudio/core"
	"github.com/alwitt/adstudio/publish"
	"github.com/alwitt/adstudio/storage"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// ServiceName name reported by the service banner
const ServiceName = "ads-studio"

// APIRestStudioHandler REST handler for campaigns, accounts, and publishing
type APIRestStudioHandler struct {
	goutils.RestAPIHandler
	repo         *storage.Repository
	orchestrator *publish.Orchestrator
	natsClient   *core.NatsClient
	version      string
	validate     *validator.Validate
}

// GetAPIRestStudioHandler define APIRestStudioHandler
//
// natsClient is only used for readiness, and may be nil when running without the relay.
func GetAPIRestStudioHandler(
	repo *storage.Repository,
	orchestrator *publish.Orchestrator,
	natsClient *core.NatsClient,
	httpConfig *common.HTTPConfig,
	version string,
) (APIRestStudioHandler, error) {
	if repo == nil || orchestrator == nil {
		return APIRestStudioHandler{}, fmt.Errorf("studio handler requires a repository and orchestrator")
	}
	logTags := log.Fields{
		"module":    "apis",
		"component": "studio",
	}
	return APIRestStudioHandler{
		RestAPIHandler: defineRestAPIHandler(logTags, httpConfig),
		repo:           repo,
		orchestrator:   orchestrator,
		natsClient:     natsClient,
		version:        version,
		validate:       validator.New(),
	}, nil
}

// =======================================================================
// Campaigns

// -----------------------------------------------------------------------

// APIRestRespCampaign response containing one campaign
type APIRestRespCampaign struct {
	goutils.RestAPIBaseResponse
	Campaign common.CampaignRecord `json:"campaign"`
}

// CreateCampaign godoc
// @Summary Store a new campaign
// @Description Store a new campaign in draft status. Defaults are applied to optional fields.
// @tags Studio
// @Accept json
// @Produce json
// @Param Adstudio-Request-ID header string false "User provided request ID to match against logs"
// @Param campaign body common.CampaignPayload true "Campaign content"
// @Success 200 {object} APIRestRespCampaign "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/campaigns [post]
func (h APIRestStudioHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var payload common.CampaignPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	payload.ApplyDefaults()
	if err := h.validate.Struct(&payload); err != nil {
		msg := "Invalid campaign"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	record, err := h.repo.CreateCampaign(r.Context(), payload)
	if err != nil {
		msg := "Failed to store campaign"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespCampaign{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Campaign: record,
	}
}

// CreateCampaignHandler Wrapper around CreateCampaign
func (h APIRestStudioHandler) CreateCampaignHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.CreateCampaign(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespCampaigns response for listing campaigns
type APIRestRespCampaigns struct {
	goutils.RestAPIBaseResponse
	Items []common.CampaignRecord `json:"items"`
}

// ListCampaigns godoc
// @Summary List stored campaigns
// @tags Studio
// @Produce json
// @Param Adstudio-Request-ID header string false "User provided request ID to match against logs"
// @Param limit query integer false "Max number of campaigns to return"
// @Success 200 {object} APIRestRespCampaigns "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/campaigns [get]
func (h APIRestStudioHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	limit, err := readLimitQuery(r)
	if err != nil {
		msg := "Invalid limit"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	campaigns, err := h.repo.ListCampaigns(r.Context(), limit)
	if err != nil {
		msg := "Failed to list campaigns"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespCampaigns{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Items: campaigns,
	}
}

// ListCampaignsHandler Wrapper around ListCampaigns
func (h APIRestStudioHandler) ListCampaignsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListCampaigns(w, r)
	}
}

// =======================================================================
// Accounts

// APIRestAccount a stored credential as returned to callers. The token is never echoed.
type APIRestAccount struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	PageID    *string   `json:"page_id,omitempty"`
	PageName  *string   `json:"page_name,omitempty"`
	ExpiresAt *string   `json:"expires_at,omitempty"`
	OwnerID   *string   `json:"owner_id,omitempty"`
	HasToken  bool      `json:"has_token"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func convertAccount(cred common.AccountCredential) APIRestAccount {
	return APIRestAccount{
		ID:        cred.ID,
		Platform:  cred.Platform,
		PageID:    cred.PageID,
		PageName:  cred.PageName,
		ExpiresAt: cred.ExpiresAt,
		OwnerID:   cred.OwnerID,
		HasToken:  cred.AccessToken != "",
		CreatedAt: cred.CreatedAt,
		UpdatedAt: cred.UpdatedAt,
	}
}

// -----------------------------------------------------------------------

// APIRestRespAccounts response for listing accounts
type APIRestRespAccounts struct {
	goutils.RestAPIBaseResponse
	Items []APIRestAccount `json:"items"`
}

// ListAccounts godoc
// @Summary List stored account credentials
// @Description Returns at most the storage list limit, in insertion order.
// @tags Studio
// @Produce json
// @Param Adstudio-Request-ID header string false "User provided request ID to match against logs"
// @Param limit query integer false "Max number of accounts to return"
// @Success 200 {object} APIRestRespAccounts "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/accounts [get]
func (h APIRestStudioHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	limit, err := readLimitQuery(r)
	if err != nil {
		msg := "Invalid limit"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	creds, err := h.repo.ListCredentials(r.Context(), limit)
	if err != nil {
		msg := "Failed to list accounts"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}
	items := make([]APIRestAccount, len(creds))
	for idx, cred := range creds {
		items[idx] = convertAccount(cred)
	}

	respCode = http.StatusOK
	respBody = APIRestRespAccounts{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Items: items,
	}
}

// ListAccountsHandler Wrapper around ListAccounts
func (h APIRestStudioHandler) ListAccountsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListAccounts(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespAccount response containing one account
type APIRestRespAccount struct {
	goutils.RestAPIBaseResponse
	Account APIRestAccount `json:"account"`
}

// UpsertAccount godoc
// @Summary Store an account credential
// @Description Insert or replace the credential for a platform page. A credential with the
// same platform and page_id is replaced; without page_id, the platform's page-less credential.
// @tags Studio
// @Accept json
// @Produce json
// @Param Adstudio-Request-ID header string false "User provided request ID to match against logs"
// @Param account body common.AccountCredential true "Account credential"
// @Success 200 {object} APIRestRespAccount "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/accounts [post]
func (h APIRestStudioHandler) UpsertAccount(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var cred common.AccountCredential
	if err := decodeRequestBody(r, h.validate, &cred); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	stored, err := h.repo.UpsertCredential(r.Context(), cred)
	if err != nil {
		msg := "Failed to store account"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespAccount{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Account: convertAccount(stored),
	}
}

// UpsertAccountHandler Wrapper around UpsertAccount
func (h APIRestStudioHandler) UpsertAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.UpsertAccount(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespDeleted response for a delete call
type APIRestRespDeleted struct {
	goutils.RestAPIBaseResponse
	Deleted bool `json:"deleted"`
}

// DeleteAccount godoc
// @Summary Delete an account credential
// @tags Studio
// @Produce json
// @Param Adstudio-Request-ID header string false "User provided request ID to match against logs"
// @Param accountID path string true "Account ID"
// @Success 200 {object} APIRestRespDeleted "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/accounts/{accountID} [delete]
func (h APIRestStudioHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	accountID, ok := mux.Vars(r)["accountID"]
	if !ok || accountID == "" {
		msg := "No account ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	deleted, err := h.repo.DeleteCredential(r.Context(), accountID)
	if err != nil {
		msg := fmt.Sprintf("Failed to delete account %s", accountID)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespDeleted{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Deleted: deleted,
	}
}

// DeleteAccountHandler Wrapper around DeleteAccount
func (h APIRestStudioHandler) DeleteAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.DeleteAccount(w, r)
	}
}

// =======================================================================
// Publish

// APIRestRespPublish response for a publish call
type APIRestRespPublish struct {
	goutils.RestAPIBaseResponse
	publish.Response
}

// Publish godoc
// @Summary Publish a campaign
// @Description Prepare a campaign for publishing to up to five social accounts. Per account
// failures are reported in the results, and do not fail the call.
// @tags Studio
// @Accept json
// @Produce json
// @Param Adstudio-Request-ID header string false "User provided request ID to match against logs"
// @Param request body publish.Request true "Campaign (inline or by ID) to publish"
// @Success 200 {object} APIRestRespPublish "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/publish [post]
func (h APIRestStudioHandler) Publish(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var req publish.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	resp, err := h.orchestrator.Publish(r.Context(), req)
	if err != nil {
		msg := "Publish failed"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = errorToStatusCode(err)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespPublish{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Response: resp,
	}
}

// PublishHandler Wrapper around Publish
func (h APIRestStudioHandler) PublishHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Publish(w, r)
	}
}

// =======================================================================
// Health Checks

// APIRestRespBanner service banner
type APIRestRespBanner struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// Banner godoc
// @Summary Service banner
// @tags Health
// @Produce json
// @Success 200 {object} APIRestRespBanner "success"
// @Router / [get]
func (h APIRestStudioHandler) Banner(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, APIRestRespBanner{OK: true, Service: ServiceName, Version: h.version}, nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// BannerHandler Wrapper around Banner
func (h APIRestStudioHandler) BannerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Banner(w, r)
	}
}

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For REST API liveness check
// @Description Will return success to indicate REST API module is live
// @tags Health
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Router /alive [get]
func (h APIRestStudioHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestStudioHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For REST API readiness check
// @Description Will return success if the document store answers, and the NATS relay is
// connected when in use
// @tags Health
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestStudioHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if err := h.repo.Store().Ping(r.Context()); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Document store ping failed")
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}
	if h.natsClient != nil && !h.natsClient.Connected() {
		detail := "NATS relay disconnected"
		log.WithFields(localLogTags).Error(detail)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, detail)
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h APIRestStudioHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
