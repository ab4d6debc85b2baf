// Package params resolves named configuration values such as API
// credentials and the assistant persona settings. Values can come from
// static configuration, a local SQLite state file, or an HTTP
// parameters-and-secrets extension; a Chain consults them in order.
package params

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Parameter names, unprefixed.
const (
	SlackBotToken        = "botToken"
	GitHubAppPrivateKey  = "githubApp/privateKey"
	GitHubAppID          = "githubApp/appId"
	GitHubToken          = "github/token"
	OpenAIAPIKey         = "openai/apiKey"
	AssistantID          = "assistantId"
	AssistantModel       = "model"
	AssistantInstruction = "instruction"
	AssistantName        = "name"
)

// Source reads a named parameter. A parameter that does not exist is
// reported as an *Error with Status 404.
type Source interface {
	Get(ctx context.Context, name string) (string, error)
}

// Writer persists a named parameter.
type Writer interface {
	Put(ctx context.Context, name, value string) error
}

// Error describes a failed parameter read. Status and Body follow HTTP
// semantics even for non-HTTP sources.
type Error struct {
	Name   string
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d:%s", e.Name, e.Status, e.Body)
}

// notFound builds the error every source returns for a missing name.
func notFound(name string) *Error {
	return &Error{Name: name, Status: http.StatusNotFound, Body: "parameter not found"}
}

// IsNotFound reports whether err is a parameter lookup that found
// nothing.
func IsNotFound(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Status == http.StatusNotFound
}

// Chain consults each source in order and returns the first value
// found. Errors other than not-found stop the walk.
type Chain []Source

// Get implements Source.
func (c Chain) Get(ctx context.Context, name string) (string, error) {
	for _, src := range c {
		v, err := src.Get(ctx, name)
		if err == nil {
			return v, nil
		}
		if !IsNotFound(err) {
			return "", err
		}
	}
	return "", notFound(name)
}

// Require fetches a parameter and treats an empty value as missing.
func Require(ctx context.Context, src Source, name string) (string, error) {
	v, err := src.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", &Error{Name: name, Status: http.StatusNotFound, Body: "parameter is empty"}
	}
	return v, nil
}
