package main

import (
	"context"
	"fmt"

	"github.com/UkralStul/technews/internal/auth"
	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/storage"
)

// fillWithDemoData создаёт пользователей, статьи во всех трёх состояниях и
// небольшую ветку комментариев. Пароль у всех демо-пользователей - "password".
func fillWithDemoData(ctx context.Context, s storage.Storage) error {
	hash, err := auth.HashPassword("password")
	if err != nil {
		return err
	}

	// 1. Пользователи: администратор, автор и читатель.
	users := make(map[string]*domain.User, 3)
	for _, u := range []struct {
		name string
		role domain.Role
	}{
		{"admin", domain.RoleAdmin},
		{"author", domain.RoleUser},
		{"reader", domain.RoleUser},
	} {
		created, err := s.CreateUser(ctx, &domain.User{
			Username:     u.name,
			Email:        u.name + "@technews.local",
			PasswordHash: hash,
			Role:         u.role,
			Avatar:       "https://i.pravatar.cc/150?u=" + u.name,
		})
		if err != nil {
			return fmt.Errorf("demo data: create user %s: %w", u.name, err)
		}
		users[u.name] = created
	}
	author, reader := users["author"], users["reader"]

	if _, err := s.AddSubscription(ctx, reader.ID, author.ID); err != nil {
		return fmt.Errorf("demo data: subscribe: %w", err)
	}

	// 2. Статьи: одна опубликована, одна ждёт модерации, одна отклонена.
	posts := []struct {
		title    string
		category string
		status   domain.PostStatus
		reason   string
	}{
		{"Вышел Go 1.24", "programming", domain.StatusPublished, ""},
		{"Обзор нового ноутбука", "hardware", domain.StatusPending, ""},
		{"Слухи о смартфоне", "mobile", domain.StatusRejected, "нет источников"},
	}
	var published *domain.Post
	for _, p := range posts {
		created, err := s.CreatePost(ctx, &domain.Post{
			Title:       p.title,
			Description: "Коротко: " + p.title,
			Body:        "Полный текст статьи «" + p.title + "».",
			Category:    p.category,
			AuthorID:    author.ID,
		})
		if err != nil {
			return fmt.Errorf("demo data: create post: %w", err)
		}
		if p.status != domain.StatusPending {
			if created, err = s.UpdatePostStatus(ctx, created.ID, domain.StatusPending, p.status, p.reason); err != nil {
				return fmt.Errorf("demo data: set status: %w", err)
			}
		}
		if p.status == domain.StatusPublished {
			published = created
		}
	}

	// 3. Ветка комментариев под опубликованной статьёй.
	c1, err := s.AppendComment(ctx, published.ID, &domain.Comment{
		AuthorID:     reader.ID,
		AuthorAvatar: reader.Avatar,
		Text:         "Отличная новость! Когда обновляться?",
	})
	if err != nil {
		return fmt.Errorf("demo data: comment: %w", err)
	}
	if _, err := s.AppendComment(ctx, published.ID, &domain.Comment{
		ParentID:     &c1.ID,
		AuthorID:     author.ID,
		AuthorAvatar: author.Avatar,
		Text:         "Уже можно, релиз стабильный.",
	}); err != nil {
		return fmt.Errorf("demo data: reply: %w", err)
	}
	return nil
}
