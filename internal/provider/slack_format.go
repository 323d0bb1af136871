package provider

// Slack formatters build the neutral rich message and hand it back
// serialized, so the single SendMessage string path carries both plain
// visitor text and formatted notices. Pure functions: no I/O, no clock.

func (a *SlackAdapter) FormatWelcomeMessage(mc MessageContext) string {
	return RichMessage{
		Sections: []Section{
			{
				Title: "New chat started",
				Text:  "A visitor is waiting in this channel. Reply here and they will see it in the widget.",
			},
			{
				Fields: visitorFields(mc),
			},
			{
				Text: "> " + mc.FirstMessage,
			},
		},
	}.Encode()
}

func (a *SlackAdapter) FormatNotificationMessage(mc MessageContext) string {
	return RichMessage{
		Sections: []Section{
			{
				Title: "New chat in <#" + mc.ChannelID + ">",
				Text:  "A visitor started a conversation.",
			},
			{
				Fields: visitorFields(mc),
			},
			{
				Text: "> " + mc.FirstMessage,
			},
		},
	}.Encode()
}

func (a *SlackAdapter) FormatOfflineMessage(mc MessageContext) string {
	return RichMessage{
		Sections: []Section{
			{
				Title: "Offline message",
				Text:  "A visitor left a message while nobody was online.",
			},
			{
				Fields: visitorFields(mc),
			},
			{
				Text: "> " + mc.FirstMessage,
			},
		},
	}.Encode()
}

func visitorFields(mc MessageContext) []Field {
	fields := []Field{
		{Label: "Session", Value: mc.SessionID},
	}
	if mc.VisitorName != "" {
		fields = append(fields, Field{Label: "Name", Value: mc.VisitorName})
	}
	email := mc.VisitorEmail
	if email == "" {
		email = "anonymous"
	}
	fields = append(fields, Field{Label: "Email", Value: email})
	if mc.ReferringPage != "" {
		fields = append(fields, Field{Label: "Page", Value: mc.ReferringPage})
	}
	if mc.Location != "" {
		fields = append(fields, Field{Label: "Location", Value: mc.Location})
	}
	if mc.LocalTime != "" {
		fields = append(fields, Field{Label: "Local time", Value: mc.LocalTime})
	}
	return fields
}
