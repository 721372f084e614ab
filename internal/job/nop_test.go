package job

import (
	"context"

	"agendawatch/internal/notion"
)

type nopNotion struct{}

func (nopNotion) QueryDatabase(context.Context, string, notion.Query) ([]notion.Page, error) {
	return nil, nil
}

func (nopNotion) EachPage(context.Context, string, notion.Query, func([]notion.Page) error) error {
	return nil
}

func (nopNotion) UpdatePageTitle(context.Context, string, string, string) error { return nil }

func (nopNotion) GetUser(context.Context, string) (notion.User, error) { return notion.User{}, nil }
