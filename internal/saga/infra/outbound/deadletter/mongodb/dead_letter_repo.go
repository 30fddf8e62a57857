package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
)

const collectionName = "dead_letters"

// DeadLetterRepoMongoDB guarda los mensajes envenenados para revisión manual.
type DeadLetterRepoMongoDB struct {
	coll *mongo.Collection
}

func NewDeadLetterRepoMongoDB(client *mongo.Client, dbName string) *DeadLetterRepoMongoDB {
	return &DeadLetterRepoMongoDB{coll: client.Database(dbName).Collection(collectionName)}
}

// mongoDeadLetter mapea el documento. El payload se guarda como texto para poder leerlo en la consola.
type mongoDeadLetter struct {
	ID         string    `bson:"_id"`
	Key        string    `bson:"key"`
	Payload    string    `bson:"payload"`
	Reason     string    `bson:"reason"`
	ReceivedAt time.Time `bson:"receivedAt"`
}

func (r *DeadLetterRepoMongoDB) Store(ctx context.Context, dl sharedDomain.DeadLetter) error {
	doc := mongoDeadLetter{
		ID:         dl.ID.String(),
		Key:        dl.Key,
		Payload:    string(dl.Payload),
		Reason:     dl.Reason,
		ReceivedAt: dl.ReceivedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil // ya guardado
		}
		return fmt.Errorf("insert dead letter %s: %w", dl.ID, err)
	}
	return nil
}

// Recent devuelve los últimos mensajes apartados, del más nuevo al más viejo.
func (r *DeadLetterRepoMongoDB) Recent(ctx context.Context, limit int) ([]sharedDomain.DeadLetter, error) {
	opts := options.Find().SetSort(bson.D{{Key: "receivedAt", Value: -1}}).SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []sharedDomain.DeadLetter
	for cursor.Next(ctx) {
		var doc mongoDeadLetter
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromMongoDeadLetter(doc))
	}
	return out, cursor.Err()
}

func fromMongoDeadLetter(doc mongoDeadLetter) sharedDomain.DeadLetter {
	dl := sharedDomain.DeadLetter{
		Key:        doc.Key,
		Payload:    []byte(doc.Payload),
		Reason:     doc.Reason,
		ReceivedAt: doc.ReceivedAt.UTC(),
	}
	_ = dl.ID.UnmarshalText([]byte(doc.ID))
	return dl
}

// Verificación en tiempo de compilación.
var _ sharedDomain.DeadLetterSink = (*DeadLetterRepoMongoDB)(nil)
