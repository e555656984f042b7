package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// settlementDoc is the stored shape of a settlement record. Amounts are
// kept as decimal strings.
type settlementDoc struct {
	Key       string            `bson:"_id"`
	MatchID   string            `bson:"matchId"`
	Round     int               `bson:"round"`
	Terminal  string            `bson:"terminal"`
	Currency  string            `bson:"currency"`
	Winners   []string          `bson:"winners"`
	Stakes    map[string]string `bson:"stakes"`
	Payouts   map[string]string `bson:"payouts"`
	Refund    bool              `bson:"refund"`
	Reason    string            `bson:"reason"`
	Status    string            `bson:"status"`
	Attempts  int               `bson:"attempts"`
	LastError string            `bson:"lastError,omitempty"`
	CreatedAt time.Time         `bson:"createdAt"`
	UpdatedAt time.Time         `bson:"updatedAt"`
}

// SettlementRepo persists settlement records keyed by their idempotency key.
type SettlementRepo struct {
	collection *mongo.Collection
}

// NewSettlementRepo creates a SettlementRepo on the given database and collection.
func NewSettlementRepo(client *mongo.Client, dbName, collectionName string) *SettlementRepo {
	return &SettlementRepo{collection: client.Database(dbName).Collection(collectionName)}
}

// EnsureIndexes creates the indexes the reconciler and match lookups use.
func (r *SettlementRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}}},
		{Keys: bson.D{{Key: "matchId", Value: 1}, {Key: "round", Value: 1}}},
	})
	return err
}

// Create inserts the record unless its key is already stored.
func (r *SettlementRepo) Create(ctx context.Context, rec *game.SettlementRecord) (*game.SettlementRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, toSettlementDoc(rec))
	if err == nil {
		cp := *rec
		return &cp, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("inserting settlement %s: %w", rec.Key, err)
	}

	stored, err := r.find(ctx, rec.Key)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

// ByKey returns the record with the given key.
func (r *SettlementRepo) ByKey(ctx context.Context, key uuid.UUID) (*game.SettlementRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.find(ctx, key)
}

// Update overwrites the mutable fields of a record.
func (r *SettlementRepo) Update(ctx context.Context, rec *game.SettlementRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"status":    string(rec.Status),
			"attempts":  rec.Attempts,
			"lastError": rec.LastError,
			"updatedAt": rec.UpdatedAt,
		},
	}
	res, err := r.collection.UpdateByID(ctx, rec.Key.String(), update)
	if err != nil {
		return fmt.Errorf("updating settlement %s: %w", rec.Key, err)
	}
	if res.MatchedCount == 0 {
		return i.ErrRecordNotFound
	}
	return nil
}

// Pending lists pending records not touched since before.
func (r *SettlementRepo) Pending(ctx context.Context, before time.Time) ([]*game.SettlementRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"status": string(game.SettlementPending), "updatedAt": bson.M{"$lt": before}}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}})
	return r.list(ctx, filter, opts)
}

// ByMatch lists the records of a match by round.
func (r *SettlementRepo) ByMatch(ctx context.Context, matchID uuid.UUID) ([]*game.SettlementRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "round", Value: 1}})
	return r.list(ctx, bson.M{"matchId": matchID.String()}, opts)
}

func (r *SettlementRepo) find(ctx context.Context, key uuid.UUID) (*game.SettlementRecord, error) {
	var doc settlementDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, i.ErrRecordNotFound
		}
		return nil, fmt.Errorf("reading settlement %s: %w", key, err)
	}
	return fromSettlementDoc(&doc)
}

func (r *SettlementRepo) list(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*game.SettlementRecord, error) {
	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []settlementDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*game.SettlementRecord, 0, len(docs))
	for idx := range docs {
		rec, err := fromSettlementDoc(&docs[idx])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toSettlementDoc(rec *game.SettlementRecord) *settlementDoc {
	doc := &settlementDoc{
		Key:       rec.Key.String(),
		MatchID:   rec.MatchID.String(),
		Round:     rec.Round,
		Terminal:  string(rec.Terminal),
		Currency:  rec.Currency,
		Winners:   make([]string, 0, len(rec.Winners)),
		Stakes:    amountsToDoc(rec.Stakes),
		Payouts:   amountsToDoc(rec.Payouts),
		Refund:    rec.Refund,
		Reason:    rec.Reason,
		Status:    string(rec.Status),
		Attempts:  rec.Attempts,
		LastError: rec.LastError,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	for _, w := range rec.Winners {
		doc.Winners = append(doc.Winners, w.String())
	}
	return doc
}

func fromSettlementDoc(doc *settlementDoc) (*game.SettlementRecord, error) {
	key, err := uuid.Parse(doc.Key)
	if err != nil {
		return nil, fmt.Errorf("corrupt settlement key %q: %w", doc.Key, err)
	}
	matchID, err := uuid.Parse(doc.MatchID)
	if err != nil {
		return nil, fmt.Errorf("corrupt match id in settlement %s: %w", doc.Key, err)
	}
	stakes, err := amountsFromDoc(doc.Stakes)
	if err != nil {
		return nil, fmt.Errorf("corrupt stakes in settlement %s: %w", doc.Key, err)
	}
	payouts, err := amountsFromDoc(doc.Payouts)
	if err != nil {
		return nil, fmt.Errorf("corrupt payouts in settlement %s: %w", doc.Key, err)
	}

	rec := &game.SettlementRecord{
		Key:       key,
		MatchID:   matchID,
		Round:     doc.Round,
		Terminal:  game.State(doc.Terminal),
		Currency:  doc.Currency,
		Stakes:    stakes,
		Payouts:   payouts,
		Refund:    doc.Refund,
		Reason:    doc.Reason,
		Status:    game.SettlementStatus(doc.Status),
		Attempts:  doc.Attempts,
		LastError: doc.LastError,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, w := range doc.Winners {
		id, err := uuid.Parse(w)
		if err != nil {
			return nil, fmt.Errorf("corrupt winner in settlement %s: %w", doc.Key, err)
		}
		rec.Winners = append(rec.Winners, id)
	}
	return rec, nil
}

func amountsToDoc(in map[uuid.UUID]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(in))
	for id, v := range in {
		out[id.String()] = v.String()
	}
	return out
}

func amountsFromDoc(in map[string]string) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal, len(in))
	for raw, v := range in {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		out[id] = amount
	}
	return out, nil
}
