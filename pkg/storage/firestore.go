package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/chargereport/chargereport/pkg/log"
	"github.com/chargereport/chargereport/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Ledger interface using Google Cloud Firestore.
// Deliveries live under installations/<id>/deliveries/<period>.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) deliveries(installationID string) (*firestore.CollectionRef, error) {
	if installationID == "" {
		return nil, fmt.Errorf("installationID cannot be empty")
	}
	return f.client.Collection("installations").Doc(installationID).Collection("deliveries"), nil
}

// GetDelivery retrieves the delivery recorded for a period.
func (f *FirestoreProvider) GetDelivery(ctx context.Context, installationID, period string) (types.Delivery, error) {
	coll, err := f.deliveries(installationID)
	if err != nil {
		return types.Delivery{}, err
	}
	if period == "" {
		return types.Delivery{}, fmt.Errorf("period cannot be empty")
	}
	doc, err := coll.Doc(period).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Delivery{}, ErrDeliveryNotFound
		}
		return types.Delivery{}, fmt.Errorf("failed to get delivery %s: %w", period, err)
	}
	return decodeDelivery(ctx, doc)
}

// PutDelivery stores the delivery as a JSON blob keyed by its period, replacing
// any earlier record for that period.
func (f *FirestoreProvider) PutDelivery(ctx context.Context, d types.Delivery) error {
	if err := validateDelivery(d); err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	coll, err := f.deliveries(d.InstallationID)
	if err != nil {
		return err
	}
	_, err = coll.Doc(d.Period).Set(ctx, map[string]interface{}{
		"json":        string(jsonBytes),
		"runID":       d.RunID,
		"deliveredAt": d.DeliveredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to put delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns every delivery of an installation ordered by period.
func (f *FirestoreProvider) ListDeliveries(ctx context.Context, installationID string) ([]types.Delivery, error) {
	coll, err := f.deliveries(installationID)
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []types.Delivery
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating deliveries: %w", err)
		}
		d, err := decodeDelivery(ctx, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func decodeDelivery(ctx context.Context, doc *firestore.DocumentSnapshot) (types.Delivery, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "delivery doc missing json", slog.String("period", doc.Ref.ID), slog.Any("err", err))
		return types.Delivery{}, fmt.Errorf("delivery document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "delivery doc json not string", slog.String("period", doc.Ref.ID))
		return types.Delivery{}, fmt.Errorf("delivery document %s 'json' field is not string", doc.Ref.ID)
	}
	var d types.Delivery
	if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal delivery", slog.String("period", doc.Ref.ID), slog.Any("err", err))
		return types.Delivery{}, fmt.Errorf("failed to unmarshal delivery (id=%s): %w", doc.Ref.ID, err)
	}
	return d, nil
}
