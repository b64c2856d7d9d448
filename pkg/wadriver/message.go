package wadriver

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// mapMessage converts a protocol message event into the driver-level shape.
// Deterministic: the same event always yields the same RawMessage.
func mapMessage(evt *events.Message, ownJID string) *RawMessage {
	info := evt.Info
	chat := info.Chat.String()

	raw := &RawMessage{
		ID: MessageID{
			ID:         info.ID,
			Serialized: SerializedMessageID(info.IsFromMe, chat, info.ID),
		},
		ChatID:     chat,
		From:       info.Sender.String(),
		To:         ownJID,
		PushName:   info.PushName,
		Type:       rawType(evt.Message),
		Body:       rawBody(evt.Message),
		Timestamp:  info.Timestamp.Unix(),
		FromMe:     info.IsFromMe,
		DeviceType: deviceTypeFromID(info.ID),
		Broadcast:  info.Chat.Server == types.BroadcastServer,
	}
	if info.IsFromMe {
		raw.To = chat
	}

	if ctx := rawContext(evt.Message); ctx != nil {
		raw.IsForwarded = ctx.GetIsForwarded()
		raw.MentionedIDs = ctx.GetMentionedJID()
		if quoted := ctx.GetStanzaID(); quoted != "" {
			raw.HasQuotedMsg = true
			raw.QuotedMsgID = quoted
		}
	}

	attachMedia(raw, evt.Message)
	return raw
}

// rawType maps protocol content to the driver type vocabulary.
func rawType(msg *waE2E.Message) string {
	switch {
	case msg == nil:
		return "chat"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		if msg.GetAudioMessage().GetPTT() {
			return "ptt"
		}
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetLocationMessage() != nil, msg.GetLiveLocationMessage() != nil:
		return "location"
	case msg.GetContactMessage() != nil:
		return "vcard"
	case msg.GetContactsArrayMessage() != nil:
		return "multi_vcard"
	case msg.GetPollCreationMessage() != nil:
		return "poll"
	case msg.GetReactionMessage() != nil:
		return "reaction"
	default:
		return "chat"
	}
}

func rawBody(msg *waE2E.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	case msg.GetReactionMessage() != nil:
		return msg.GetReactionMessage().GetText()
	default:
		return ""
	}
}

func rawContext(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg == nil:
		return nil
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetContextInfo()
	default:
		return nil
	}
}

// attachMedia records media metadata and keeps the downloadable payload for
// DownloadMedia.
func attachMedia(raw *RawMessage, msg *waE2E.Message) {
	if msg == nil {
		return
	}
	switch {
	case msg.GetImageMessage() != nil:
		m := msg.GetImageMessage()
		raw.HasMedia = true
		raw.MediaMimeType = m.GetMimetype()
		raw.MediaSize = int64(m.GetFileLength())
		raw.dl = m
	case msg.GetVideoMessage() != nil:
		m := msg.GetVideoMessage()
		raw.HasMedia = true
		raw.MediaMimeType = m.GetMimetype()
		raw.MediaSize = int64(m.GetFileLength())
		raw.dl = m
	case msg.GetAudioMessage() != nil:
		m := msg.GetAudioMessage()
		raw.HasMedia = true
		raw.MediaMimeType = m.GetMimetype()
		raw.MediaSize = int64(m.GetFileLength())
		raw.dl = m
	case msg.GetDocumentMessage() != nil:
		m := msg.GetDocumentMessage()
		raw.HasMedia = true
		raw.MediaMimeType = m.GetMimetype()
		raw.MediaSize = int64(m.GetFileLength())
		raw.MediaFileName = m.GetFileName()
		raw.dl = m
	case msg.GetStickerMessage() != nil:
		m := msg.GetStickerMessage()
		raw.HasMedia = true
		raw.MediaMimeType = m.GetMimetype()
		raw.MediaSize = int64(m.GetFileLength())
		raw.dl = m
	}
}

// deviceTypeFromID guesses the sending platform from the message id shape:
// WhatsApp Web ids start with 3EB0, iOS ids with 3A; everything else is
// reported as android.
func deviceTypeFromID(id string) string {
	switch {
	case id == "":
		return ""
	case strings.HasPrefix(id, "3EB0"):
		return "web"
	case strings.HasPrefix(id, "3A"):
		return "ios"
	default:
		return "android"
	}
}

// SerializedMessageID builds the fromMe_chatJID_id form used to
// cross-reference messages between the driver and the API.
func SerializedMessageID(fromMe bool, chatJID, id string) string {
	return fmt.Sprintf("%t_%s_%s", fromMe, chatJID, id)
}

// CanonicalChatJID normalizes a bare phone number or JID to the chat JID
// string the driver reports in events, so outbound sends and their echoes
// serialize to the same message id.
func CanonicalChatJID(to string) string {
	jid, err := parseRecipient(to)
	if err != nil {
		return to
	}
	return jid.String()
}

// parseRecipient accepts a full JID or a bare phone number.
func parseRecipient(to string) (types.JID, error) {
	if strings.ContainsRune(to, '@') {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("invalid recipient JID %q: %w", to, err)
		}
		return jid, nil
	}

	digits := digitsOnly(to)
	if digits == "" {
		return types.EmptyJID, fmt.Errorf("invalid recipient %q", to)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
