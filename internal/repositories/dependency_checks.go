package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tealshop/storefront/internal/platform/secrets"
)

// Dependency check names reported by /readyz.
const (
	CheckFirestore     = "firestore"
	CheckSecretManager = "secretManager"
	CheckPubSub        = "pubsub"
)

// SecretResolver resolves secret references.
type SecretResolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
}

// TopicProbe is the part of a Pub/Sub topic the readiness check needs.
type TopicProbe interface {
	ID() string
	Exists(ctx context.Context) (bool, error)
}

// FirestoreCheck lists one collection to prove the database answers.
func FirestoreCheck(client *firestore.Client) DependencyCheck {
	return DependencyCheck{
		Name:    CheckFirestore,
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			_, err := client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
}

// SecretManagerCheck resolves reference. A missing secret still proves Secret Manager is reachable.
func SecretManagerCheck(resolver SecretResolver, reference string) DependencyCheck {
	return DependencyCheck{
		Name:    CheckSecretManager,
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := resolver.Resolve(ctx, reference)
			if err == nil || errors.Is(err, secrets.ErrSecretNotFound) || status.Code(errors.Unwrap(err)) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

// PubSubTopicCheck requires the order events topic to exist.
func PubSubTopicCheck(topic TopicProbe) DependencyCheck {
	return DependencyCheck{
		Name:    CheckPubSub,
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topic.ID())
			}
			return nil
		},
	}
}
