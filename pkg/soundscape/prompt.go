// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package soundscape

import (
	"strings"

	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/errors"
)

// ContentMarker starts the usable part of a generated response.
const ContentMarker = "@"

// maxNamedPlaces is how many places a composite names.
const maxNamedPlaces = 3

const promptInstructions = " Please consolidate the recommendations for the type of vibe into a list." +
	" At the end, can you combine those into a prompt for a music generation model" +
	" and begin the prompt with a @ symbol so I know where it starts?"

// BuildPrompt composes the description sent to the content generator.
// places are ordered nearest first. Empty timeOfDay or weather leave their
// clause out.
func BuildPrompt(places []core.Place, timeOfDay, weather string) string {
	var names []string
	vicinity := ""
	for _, p := range places {
		if vicinity == "" {
			vicinity = strings.TrimSpace(p.Vicinity)
		}
		if name := strings.TrimSpace(p.Name); name != "" && len(names) < maxNamedPlaces {
			names = append(names, name)
		}
	}

	var b strings.Builder
	switch len(names) {
	case 0:
		b.WriteString("If you had to come up with a vibe of music for ")
		if vicinity != "" {
			b.WriteString("the area around " + vicinity)
		} else {
			b.WriteString("the surrounding area")
		}
	case 1:
		b.WriteString("Suppose you are near the establishment/building " + names[0] + in(vicinity) + ".")
		b.WriteString(" If you had to come up with a vibe of music for these buildings")
	case 2:
		b.WriteString("Suppose you are near these two buildings" + in(vicinity) +
			", closest being first and furthest away being last: " + names[0] + " and " + names[1] + ".")
		b.WriteString(" If you had to come up with a vibe of music for these buildings")
	default:
		b.WriteString("Suppose you are near these three buildings" + in(vicinity) +
			", closest being first and furthest away being last: " + strings.Join(names, ", ") + ".")
		b.WriteString(" If you had to come up with a vibe of music for these buildings")
	}

	timeOfDay = strings.TrimSpace(timeOfDay)
	weather = strings.TrimSpace(weather)
	switch {
	case timeOfDay != "" && weather != "":
		b.WriteString(" while taking into account the current time of day (" + timeOfDay + ") and weather of the area (" + weather + ")")
	case timeOfDay != "":
		b.WriteString(" while taking into account the current time of day (" + timeOfDay + ")")
	case weather != "":
		b.WriteString(" while taking into account the weather of the area (" + weather + ")")
	}
	b.WriteString(", what would that vibe be?")
	b.WriteString(promptInstructions)
	return b.String()
}

func in(vicinity string) string {
	if vicinity == "" {
		return ""
	}
	return " in " + vicinity
}

// ExtractContent returns the text following the first ContentMarker.
func ExtractContent(response string) (string, error) {
	_, content, found := strings.Cut(response, ContentMarker)
	if !found {
		return "", errors.New(errors.CodeContentExtraction, "response has no content marker", nil).
			WithContext("marker", ContentMarker).
			WithContext("response_length", len(response))
	}
	return content, nil
}
