// Package observer рассылает новые комментарии подписчикам статьи.
package observer

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/UkralStul/technews/internal/domain"
)

// CommentObserver хранит каналы для подписчиков на комментарии.
type CommentObserver struct {
	mu sync.RWMutex
	//          map[postID] map[subscriberID] channel
	subs map[string]map[string]chan *domain.Comment
}

// NewCommentObserver - конструктор для нашего наблюдателя.
func NewCommentObserver() *CommentObserver {
	return &CommentObserver{
		subs: make(map[string]map[string]chan *domain.Comment),
	}
}

// Subscribe регистрирует подписчика на комментарии статьи. Канал закрывается
// и подписка снимается, когда отменяется ctx.
func (o *CommentObserver) Subscribe(ctx context.Context, postID string) <-chan *domain.Comment {
	ch := make(chan *domain.Comment, 8)
	subID := uuid.NewString()

	o.mu.Lock()
	if o.subs[postID] == nil {
		o.subs[postID] = make(map[string]chan *domain.Comment)
	}
	o.subs[postID][subID] = ch
	o.mu.Unlock()

	// Горутина для очистки при отключении клиента
	go func() {
		<-ctx.Done()
		o.mu.Lock()
		if postSubs, ok := o.subs[postID]; ok {
			delete(postSubs, subID)
			if len(postSubs) == 0 {
				delete(o.subs, postID)
			}
		}
		close(ch)
		o.mu.Unlock()
	}()

	return ch
}

// Publish отправляет комментарий всем подписчикам статьи, не блокируясь:
// подписчик, который не успевает читать, пропускает сообщение.
func (o *CommentObserver) Publish(c *domain.Comment) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, ch := range o.subs[c.PostID] {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribers возвращает число подписчиков статьи.
func (o *CommentObserver) Subscribers(postID string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs[postID])
}
