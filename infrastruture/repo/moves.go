package repo

import (
	"context"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type moveDoc struct {
	MatchID  string    `bson:"matchId"`
	Round    int       `bson:"round"`
	PlayerID string    `bson:"playerId"`
	Row      int       `bson:"row"`
	Col      int       `bson:"col"`
	At       time.Time `bson:"at"`
}

// MoveRepo is the append-only audit log of applied moves.
type MoveRepo struct {
	collection *mongo.Collection
}

// NewMoveRepo creates a MoveRepo on the given database and collection.
func NewMoveRepo(client *mongo.Client, dbName, collectionName string) *MoveRepo {
	return &MoveRepo{collection: client.Database(dbName).Collection(collectionName)}
}

// Append stores one applied move.
func (r *MoveRepo) Append(ctx context.Context, matchID uuid.UUID, round int, mv game.Move) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, moveDoc{
		MatchID:  matchID.String(),
		Round:    round,
		PlayerID: mv.PlayerID.String(),
		Row:      mv.Cell.Row,
		Col:      mv.Cell.Col,
		At:       mv.At,
	})
	return err
}

// Moves returns a round's moves in the order they were applied.
func (r *MoveRepo) Moves(ctx context.Context, matchID uuid.UUID, round int) ([]game.Move, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	filter := bson.M{"matchId": matchID.String(), "round": round}
	cur, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []moveDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	moves := make([]game.Move, 0, len(docs))
	for _, d := range docs {
		player, err := uuid.Parse(d.PlayerID)
		if err != nil {
			continue
		}
		moves = append(moves, game.Move{PlayerID: player, Cell: game.Cell{Row: d.Row, Col: d.Col}, At: d.At})
	}
	return moves, nil
}
