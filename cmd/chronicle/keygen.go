package main

import (
	"context"
	"fmt"

	"github.com/codewandler/chronicle-go/internal/config"
)

func runKeygen(_ context.Context, _ *app, _ []string) error {
	key, err := config.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}
