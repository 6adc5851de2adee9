package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
)

const (
	fieldSubmittedBy = "Submitted By"
	fieldCompany     = "Company"
	maxDroppedFields = 10
)

type FormsUsecase struct {
	store   repository.RecordStore
	tables  map[string]string
	logger  *slog.Logger
	timeout time.Duration
}

// NewFormsUsecase maps form names to destination tables.
func NewFormsUsecase(store repository.RecordStore, tables map[string]string, timeout time.Duration, logger *slog.Logger) *FormsUsecase {
	return &FormsUsecase{
		store:   store,
		tables:  tables,
		logger:  logger.With("component", "forms"),
		timeout: timeout,
	}
}

// Submit writes one form record stamped with the submitter's company and
// email. Fields the table rejects are dropped one at a time and the write
// retried.
func (u *FormsUsecase) Submit(ctx context.Context, identity *domain.Identity, form string, fields map[string]any) (*domain.FormSubmission, error) {
	table, ok := u.tables[form]
	if !ok {
		return nil, fmt.Errorf("form %q: %w", form, domain.ErrUnknownForm)
	}

	payload := maps.Clone(fields)
	if payload == nil {
		payload = map[string]any{}
	}
	payload[fieldSubmittedBy] = identity.Email
	if identity.CompanyID != "" {
		payload[fieldCompany] = []string{identity.CompanyID}
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	var dropped []string
	for {
		rec, err := u.store.Create(ctx, table, payload)
		if err == nil {
			if len(dropped) > 0 {
				u.logger.WarnContext(ctx, "form fields dropped", "form", form, "fields", dropped)
			}
			return &domain.FormSubmission{RecordID: rec.ID, Dropped: dropped}, nil
		}

		var ufe *domain.UnknownFieldError
		if !errors.As(err, &ufe) || len(dropped) == maxDroppedFields {
			return nil, fmt.Errorf("create %s record: %w", form, err)
		}
		name, ok := matchField(payload, ufe.Field)
		if !ok {
			return nil, fmt.Errorf("create %s record: %w", form, err)
		}
		delete(payload, name)
		dropped = append(dropped, name)
	}
}

// matchField finds the payload key the store named, ignoring case.
func matchField(payload map[string]any, field string) (string, bool) {
	if field == "" {
		return "", false
	}
	if _, ok := payload[field]; ok {
		return field, true
	}
	for name := range payload {
		if strings.EqualFold(name, field) {
			return name, true
		}
	}
	return "", false
}
