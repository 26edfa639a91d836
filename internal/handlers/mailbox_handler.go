package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobsync/internal/dtos"
	"github.com/justsurfingit/jobsync/internal/services"
)

// MailboxHandler connects the mailboxes the pipeline reads from.
type MailboxHandler struct {
	Mailboxes *services.MailboxService
}

func NewMailboxHandler(mb *services.MailboxService) *MailboxHandler {
	return &MailboxHandler{Mailboxes: mb}
}

// ConnectGmail is the POST /mailbox/gmail endpoint
func (h *MailboxHandler) ConnectGmail(c *gin.Context) {
	var req dtos.ConnectGmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := h.Mailboxes.ConnectGmail(c.Request.Context(), currentUser(c).ID, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

// ConnectIMAP is the POST /mailbox/imap endpoint
func (h *MailboxHandler) ConnectIMAP(c *gin.Context) {
	var req dtos.ConnectIMAPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := h.Mailboxes.ConnectIMAP(c.Request.Context(), currentUser(c).ID, req.Host, req.Address, req.Password)
	if services.IsCredentialError(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IMAP login failed"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (h *MailboxHandler) Get(c *gin.Context) {
	acct, err := h.Mailboxes.PrimaryAccount(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}
