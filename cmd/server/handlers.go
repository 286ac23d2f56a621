package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/database"
	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/leaderboard"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/ledger"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

// ProgressResponse is the voting progress of a round contract
type ProgressResponse struct {
	Contract string         `json:"contract"`
	Progress types.Progress `json:"progress"`
	Ready    bool           `json:"ready"`
}

func bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		_ = c.Error(apperrors.NewValidationError("invalid request body", err.Error()))
		return false
	}
	return true
}

// contractParam reconciles the contract in the path with an optional one in the body
func contractParam(c *gin.Context, body string) (string, bool) {
	path := strings.TrimSpace(c.Param("address"))
	if body != "" && !ledger.SameAddress(body, path) {
		_ = c.Error(apperrors.NewValidationError("contract in body does not match path", body))
		return "", false
	}
	return path, true
}

// startRound godoc
//
//	@Summary		Start or resume a round
//	@Description	Mines repository activity since the previous round, computes base scores and registers the round contract.
//	@Tags			rounds
//	@Accept			json
//	@Produce		json
//	@Param			request	body		types.StartRoundRequest	true	"repository and initiator credential"
//	@Success		201		{object}	types.StartRoundResponse
//	@Failure		400		{object}	apperrors.AppError
//	@Failure		403		{object}	apperrors.AppError
//	@Failure		409		{object}	apperrors.AppError
//	@Failure		502		{object}	apperrors.AppError
//	@Router			/rounds [post]
func (s *server) startRound(c *gin.Context) {
	var req types.StartRoundRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := s.rounds.Start(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// getProgress godoc
//
//	@Summary	Voting progress of a round contract
//	@Tags		rounds
//	@Produce	json
//	@Param		address	path		string	true	"round contract address"
//	@Success	200		{object}	ProgressResponse
//	@Failure	400		{object}	apperrors.AppError
//	@Failure	502		{object}	apperrors.AppError
//	@Router		/contracts/{address}/progress [get]
func (s *server) getProgress(c *gin.Context) {
	contract := c.Param("address")
	progress, err := s.rounds.CheckProgress(c.Request.Context(), contract)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ProgressResponse{Contract: contract, Progress: progress, Ready: progress.Ready()})
}

// submitVote godoc
//
//	@Summary		Submit a vote batch
//	@Description	Invalid entries are dropped and reported; the remainder is sent as one signed ledger operation.
//	@Tags			votes
//	@Accept			json
//	@Produce		json
//	@Param			address	path		string					true	"round contract address"
//	@Param			request	body		types.SubmitVoteRequest	true	"voter credential and votes"
//	@Success		200		{object}	types.VoteReceipt
//	@Failure		400		{object}	apperrors.AppError
//	@Failure		403		{object}	apperrors.AppError
//	@Failure		429		{object}	apperrors.AppError
//	@Failure		502		{object}	apperrors.AppError
//	@Router			/contracts/{address}/votes [post]
func (s *server) submitVote(c *gin.Context) {
	var req types.SubmitVoteRequest
	if !bindJSON(c, &req) {
		return
	}
	contract, ok := contractParam(c, req.Contract)
	if !ok {
		return
	}
	req.Contract = contract

	if err := s.limiter.CheckVoter(c.Request.Context(), req.Voter.Address); err != nil {
		if appErr := apperrors.ToAppError(err); appErr.Detail("retry_after") != "" {
			c.Header("Retry-After", appErr.Detail("retry_after"))
		}
		_ = c.Error(err)
		return
	}

	receipt, err := s.rounds.SubmitVote(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// finalize godoc
//
//	@Summary		Finalize a fully voted round
//	@Description	Idempotent; a contract already finalized on-chain is read back instead.
//	@Tags			rounds
//	@Accept			json
//	@Produce		json
//	@Param			address	path		string					true	"round contract address"
//	@Param			request	body		types.FinalizeRequest	true	"initiator credential"
//	@Success		200		{object}	types.FinalizeResult
//	@Failure		403		{object}	apperrors.AppError
//	@Failure		409		{object}	apperrors.AppError
//	@Failure		502		{object}	apperrors.AppError
//	@Router			/contracts/{address}/finalize [post]
func (s *server) finalize(c *gin.Context) {
	var req types.FinalizeRequest
	if !bindJSON(c, &req) {
		return
	}
	contract, ok := contractParam(c, req.Contract)
	if !ok {
		return
	}
	req.Contract = contract

	result, err := s.rounds.Finalize(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// resync godoc
//
//	@Summary	Re-read settled scores of a finalized contract into the store
//	@Tags		rounds
//	@Produce	json
//	@Param		address	path		string	true	"round contract address"
//	@Success	200		{object}	types.FinalizeResult
//	@Failure	409		{object}	apperrors.AppError
//	@Failure	502		{object}	apperrors.AppError
//	@Router		/contracts/{address}/resync [post]
func (s *server) resync(c *gin.Context) {
	result, err := s.rounds.Resync(c.Request.Context(), c.Param("address"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getLeaderboard godoc
//
//	@Summary	Repository leaderboard
//	@Tags		leaderboard
//	@Produce	json
//	@Param		owner	path		string	true	"repository owner"
//	@Param		name	path		string	true	"repository name"
//	@Param		mode	query		string	false	"cumulative (default) or latest"
//	@Success	200		{object}	leaderboard.Response
//	@Failure	400		{object}	apperrors.AppError
//	@Router		/repos/{owner}/{name}/leaderboard [get]
func (s *server) getLeaderboard(c *gin.Context) {
	mode, err := leaderboard.ParseMode(c.Query("mode"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := s.board.GetLeaderboard(c.Request.Context(), c.Param("owner")+"/"+c.Param("name"), mode)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getMemberHistory godoc
//
//	@Summary	Per-round score breakdown of one member
//	@Tags		leaderboard
//	@Produce	json
//	@Param		owner		path		string	true	"repository owner"
//	@Param		name		path		string	true	"repository name"
//	@Param		identity	path		string	true	"username, login or ledger address"
//	@Success	200			{object}	leaderboard.HistoryResponse
//	@Failure	400			{object}	apperrors.AppError
//	@Router		/repos/{owner}/{name}/members/{identity}/history [get]
func (s *server) getMemberHistory(c *gin.Context) {
	identity := c.Param("identity")
	if err := s.security.ValidateIdentity(identity); err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := s.board.MemberHistory(c.Request.Context(), c.Param("owner")+"/"+c.Param("name"), identity)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// bindMember godoc
//
//	@Summary		Bind a member to a login, ledger address and access token
//	@Description	The owner credential must control the bound address. A member already bound to another address cannot be rebound. Empty fields keep their stored value.
//	@Tags			members
//	@Accept			json
//	@Produce		json
//	@Param			username	path		string					true	"local username"
//	@Param			request		body		types.BindMemberRequest	true	"binding"
//	@Success		200			{object}	types.Member
//	@Failure		400			{object}	apperrors.AppError
//	@Failure		403			{object}	apperrors.AppError
//	@Failure		409			{object}	apperrors.AppError
//	@Router			/members/{username} [put]
func (s *server) bindMember(c *gin.Context) {
	username := c.Param("username")
	if err := s.security.ValidateIdentity(username); err != nil || strings.HasPrefix(username, "0x") {
		_ = c.Error(apperrors.NewValidationError("invalid username", username))
		return
	}

	var req types.BindMemberRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.security.ValidateLogin(req.Login); err != nil {
		_ = c.Error(err)
		return
	}

	_, owner, err := ledger.VerifyCredential(req.Owner)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if strings.TrimSpace(req.LedgerAddress) != "" {
		parsed, err := ledger.ParseAddress(req.LedgerAddress)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if parsed != owner {
			_ = c.Error(apperrors.NewAuthorizationError("owner credential does not control ledger address "+parsed.Hex(), nil))
			return
		}
	}

	ctx := c.Request.Context()
	existing, err := s.repo.GetMember(ctx, username)
	switch {
	case err == nil && existing.LedgerAddress != "" && !ledger.SameAddress(existing.LedgerAddress, owner.Hex()):
		_ = c.Error(apperrors.NewAuthorizationError("member "+username+" is bound to another ledger address", nil))
		return
	case err != nil && !errors.Is(err, database.ErrNotFound):
		_ = c.Error(apperrors.NewInternalError("failed to load member", err))
		return
	}

	// the upsert repeats the ownership check atomically for concurrent binds
	member, err := s.repo.UpsertMember(ctx, username, req.Login, owner.Hex(), strings.TrimSpace(req.AccessToken))
	switch {
	case errors.Is(err, database.ErrMemberOwned):
		_ = c.Error(apperrors.NewAuthorizationError("member "+username+" is bound to another ledger address", err))
		return
	case errors.Is(err, database.ErrIdentityTaken):
		_ = c.Error(apperrors.NewConflictError("login or ledger address is bound to another member", err))
		return
	case err != nil:
		_ = c.Error(apperrors.NewInternalError("failed to bind member", err))
		return
	}

	s.logger.Info("Member bound", "username", member.Username, "login", member.Login, "address", member.LedgerAddress)
	c.JSON(http.StatusOK, member)
}
