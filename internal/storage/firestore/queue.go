package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

func (s *FirestoreStore) Enqueue(ctx context.Context, job dispatch.Job) (string, error) {
	if job.UID == "" {
		return "", dispatch.ErrMissingRecipient
	}

	ref := s.client.Collection(s.cols.Queue).NewDoc()
	record := map[string]interface{}{
		"uid":       job.UID,
		"sendAt":    job.SendAt,
		"sent":      false,
		"createdAt": firestore.ServerTimestamp,
	}
	if job.Title != "" {
		record["title"] = job.Title
	}
	if job.Body != "" {
		record["body"] = job.Body
	}
	if job.Type != "" {
		record["type"] = job.Type
	}

	if _, err := ref.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to enqueue job for %s: %w", job.UID, err)
	}
	return ref.ID, nil
}

// DueJobs runs sent == false AND sendAt <= now ORDER BY sendAt ASC LIMIT n.
// This needs the composite index (sent ASC, sendAt ASC).
func (s *FirestoreStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]dispatch.Job, error) {
	q := s.client.Collection(s.cols.Queue).
		Where("sent", "==", false).
		Where("sendAt", "<=", now).
		OrderBy("sendAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	jobs := make([]dispatch.Job, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore due-job query failed: %w", err)
		}
		jobs = append(jobs, jobFromData(doc.Ref.ID, doc.Data()))
	}
	return jobs, nil
}

// Claim leases the job inside a transaction so two instances cannot both
// hold it. See the claim notes in DESIGN.md.
func (s *FirestoreStore) Claim(ctx context.Context, jobID, owner string, now time.Time, lease time.Duration) (bool, error) {
	ref := s.client.Collection(s.cols.Queue).Doc(jobID)

	var claimed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false

		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return dispatch.ErrJobNotFound
			}
			return err
		}
		job := jobFromData(jobID, snap.Data())
		if job.Sent {
			return nil
		}
		if job.ClaimedBy != "" && job.ClaimedBy != owner && now.Before(job.ClaimedAt.Add(lease)) {
			return nil
		}

		claimed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "claimedBy", Value: owner},
			{Path: "claimedAt", Value: now},
		})
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrJobNotFound) {
			return false, err
		}
		return false, fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	return claimed, nil
}

// Complete deletes the dead tokens and marks the job in one transaction.
func (s *FirestoreStore) Complete(ctx context.Context, job dispatch.Job, outcome dispatch.Outcome, deadTokens []string) error {
	jobRef := s.client.Collection(s.cols.Queue).Doc(job.ID)

	tokenRefs := make([]*firestore.DocumentRef, 0, len(deadTokens))
	for _, t := range deadTokens {
		ref, err := s.tokenRef(job.UID, t)
		if err != nil {
			return err
		}
		tokenRefs = append(tokenRefs, ref)
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(jobRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return dispatch.ErrJobNotFound
			}
			return err
		}
		if boolField(snap.Data(), "sent") {
			return dispatch.ErrJobAlreadyCompleted
		}

		for _, ref := range tokenRefs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return tx.Update(jobRef, completionUpdates(outcome))
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrJobNotFound) || errors.Is(err, dispatch.ErrJobAlreadyCompleted) {
			return err
		}
		return fmt.Errorf("failed to commit completion of job %s: %w", job.ID, err)
	}
	return nil
}

func completionUpdates(outcome dispatch.Outcome) []firestore.Update {
	updates := []firestore.Update{
		{Path: "sent", Value: true},
		{Path: "sentAt", Value: outcome.SentAt},
		{Path: "result", Value: outcome.Result.String()},
	}
	switch outcome.Result {
	case dispatch.ResultSent:
		updates = append(updates,
			firestore.Update{Path: "successCount", Value: outcome.SuccessCount},
			firestore.Update{Path: "failureCount", Value: outcome.FailureCount},
		)
	case dispatch.ResultError:
		updates = append(updates, firestore.Update{Path: "errorMessage", Value: outcome.ErrorMessage})
	}
	return updates
}

// jobFromData decodes leniently. Producers write these documents from the
// browser, so a wrongly typed field must not make the job unreadable.
func jobFromData(id string, data map[string]interface{}) dispatch.Job {
	return dispatch.Job{
		ID:        id,
		UID:       stringField(data, "uid"),
		SendAt:    timeField(data, "sendAt"),
		Sent:      boolField(data, "sent"),
		Title:     stringField(data, "title"),
		Body:      stringField(data, "body"),
		Type:      stringField(data, "type"),
		ClaimedBy: stringField(data, "claimedBy"),
		ClaimedAt: timeField(data, "claimedAt"),
		Outcome: dispatch.Outcome{
			Result:       dispatch.Result(stringField(data, "result")),
			SentAt:       timeField(data, "sentAt"),
			SuccessCount: intField(data, "successCount"),
			FailureCount: intField(data, "failureCount"),
			ErrorMessage: stringField(data, "errorMessage"),
		},
	}
}
