package provider

import (
	"fmt"
	"strings"
)

// Mattermost renders notices as a single markdown string. Pure functions:
// no I/O, no clock.

func (a *MattermostAdapter) FormatWelcomeMessage(mc MessageContext) string {
	var sb strings.Builder
	sb.WriteString("#### New chat started\n")
	sb.WriteString("A visitor is waiting in this channel. Reply here and they will see it in the widget.\n")
	writeVisitorLines(&sb, mc)
	fmt.Fprintf(&sb, "\n> %s", mc.FirstMessage)
	return sb.String()
}

func (a *MattermostAdapter) FormatNotificationMessage(mc MessageContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#### New chat in ~%s\n", mc.ChannelName)
	sb.WriteString("A visitor started a conversation.\n")
	writeVisitorLines(&sb, mc)
	fmt.Fprintf(&sb, "\n> %s", mc.FirstMessage)
	return sb.String()
}

func (a *MattermostAdapter) FormatOfflineMessage(mc MessageContext) string {
	var sb strings.Builder
	sb.WriteString("#### Offline message\n")
	sb.WriteString("A visitor left a message while nobody was online.\n")
	writeVisitorLines(&sb, mc)
	fmt.Fprintf(&sb, "\n> %s", mc.FirstMessage)
	return sb.String()
}

func writeVisitorLines(sb *strings.Builder, mc MessageContext) {
	fmt.Fprintf(sb, "**Session:** %s\n", mc.SessionID)
	if mc.VisitorName != "" {
		fmt.Fprintf(sb, "**Name:** %s\n", mc.VisitorName)
	}
	email := mc.VisitorEmail
	if email == "" {
		email = "anonymous"
	}
	fmt.Fprintf(sb, "**Email:** %s\n", email)
	if mc.ReferringPage != "" {
		fmt.Fprintf(sb, "**Page:** %s\n", mc.ReferringPage)
	}
	if mc.Location != "" {
		fmt.Fprintf(sb, "**Location:** %s\n", mc.Location)
	}
	if mc.LocalTime != "" {
		fmt.Fprintf(sb, "**Local time:** %s\n", mc.LocalTime)
	}
}
