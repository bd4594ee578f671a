package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
)

// WatchEvent carries one realtime observation of a watched document.
// Exists is false when the document has been deleted or never existed.
type WatchEvent[T any] struct {
	Document Document[T]
	Exists   bool
	Err      error
}

// WatchDocument streams snapshot updates for a single document until ctx is
// cancelled. The returned channel is closed once the listener stops; a
// terminal listener failure is delivered as a final event with Err set.
func WatchDocument[T any](ctx context.Context, ref *firestore.DocumentRef, decode Decoder[T]) (<-chan WatchEvent[T], error) {
	if ctx == nil {
		return nil, errors.New("firestore: context is required")
	}
	if ref == nil {
		return nil, errors.New("firestore: document ref is required")
	}
	if decode == nil {
		decode = StructDecoder[T]()
	}

	events := make(chan WatchEvent[T], 1)

	go func() {
		defer close(events)

		iter := ref.Snapshots(ctx)
		defer iter.Stop()

		for {
			snapshot, err := iter.Next()
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				select {
				case events <- WatchEvent[T]{Err: WrapError("watch", err)}:
				case <-ctx.Done():
				}
				return
			}

			event := WatchEvent[T]{Exists: snapshot.Exists()}
			if snapshot.Exists() {
				entity, decodeErr := decode(ctx, snapshot)
				if decodeErr != nil {
					event = WatchEvent[T]{Err: decodeErr}
				} else {
					event.Document = Document[T]{
						ID:         snapshot.Ref.ID,
						Data:       entity,
						CreateTime: snapshot.CreateTime,
						UpdateTime: snapshot.UpdateTime,
						ReadTime:   snapshot.ReadTime,
					}
				}
			}

			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
