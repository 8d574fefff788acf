package gateway

import "github.com/iam-i-j-k/backend/pkg/models"

func eventNamed(name string) models.Event {
	return models.Event{Name: name}
}
