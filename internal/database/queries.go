package database

// Team scoping is deliberately absent from these statements: every query
// runs inside a transaction whose session variables drive the row level
// security policies, so the database does the filtering.

// Session queries
const (
	InsertSessionQuery = `
		INSERT INTO whatsapp_session (team_id, name, phone_number, status, qr_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	SelectSessionByIDQuery = `
		SELECT id, team_id, name, phone_number, status, qr_code, last_seen_at,
		       created_at, updated_at, deleted_at
		FROM whatsapp_session
		WHERE id = $1 AND deleted_at IS NULL
	`

	SelectSessionByNameQuery = `
		SELECT id, team_id, name, phone_number, status, qr_code, last_seen_at,
		       created_at, updated_at, deleted_at
		FROM whatsapp_session
		WHERE name = $1 AND deleted_at IS NULL
	`

	SelectSessionsQuery = `
		SELECT id, team_id, name, phone_number, status, qr_code, last_seen_at,
		       created_at, updated_at, deleted_at
		FROM whatsapp_session
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	SelectLiveSessionsQuery = `
		SELECT id, team_id, name, phone_number, status, qr_code, last_seen_at,
		       created_at, updated_at, deleted_at
		FROM whatsapp_session
		WHERE status IN ('authenticating', 'active', 'reconnecting')
		  AND deleted_at IS NULL
		ORDER BY created_at ASC
	`

	CountLiveSessionsQuery = `
		SELECT COUNT(*)
		FROM whatsapp_session
		WHERE status IN ('authenticating', 'active', 'reconnecting')
		  AND deleted_at IS NULL
	`

	UpdateSessionStatusQuery = `
		UPDATE whatsapp_session
		SET status = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`

	UpdateSessionLastSeenQuery = `
		UPDATE whatsapp_session
		SET last_seen_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`

	UpdateSessionQRQuery = `
		UPDATE whatsapp_session
		SET qr_code = $2, status = 'authenticating', updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`

	UpdateSessionAuthenticatedQuery = `
		UPDATE whatsapp_session
		SET phone_number = $2, qr_code = NULL, status = 'active',
		    last_seen_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`

	SoftDeleteSessionQuery = `
		UPDATE whatsapp_session
		SET deleted_at = now(), status = 'disconnected', qr_code = NULL, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`

	SelectIdleSessionsQuery = `
		SELECT id, team_id, name, phone_number, status, qr_code, last_seen_at,
		       created_at, updated_at, deleted_at
		FROM whatsapp_session
		WHERE status IN ('authenticating', 'active', 'reconnecting')
		  AND deleted_at IS NULL
		  AND COALESCE(last_seen_at, created_at) < $1
	`
)

// Message queries
const (
	// ON CONFLICT DO NOTHING makes re-delivered driver messages idempotent:
	// the first write wins and RETURNING yields no row for the duplicate.
	InsertMessageQuery = `
		INSERT INTO whatsapp_message (
			team_id, session_id, conversation_id, wa_message_id, direction,
			from_phone, to_phone, chat_id, type, body, media_url,
			media_mime_type, media_size, caption, quoted_msg_id, timestamp, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (team_id, wa_message_id) DO NOTHING
		RETURNING id
	`

	selectMessageColumns = `
		SELECT id, team_id, session_id, conversation_id, wa_message_id, direction,
		       from_phone, to_phone, chat_id, type, body, media_url,
		       media_mime_type, media_size, caption, quoted_msg_id, timestamp,
		       is_read, read_at, metadata
		FROM whatsapp_message
	`

	SelectMessageByIDQuery = selectMessageColumns + `
		WHERE id = $1
	`

	SelectMessageByWAIDQuery = selectMessageColumns + `
		WHERE wa_message_id = $1
	`

	SelectMessagesByConversationQuery = selectMessageColumns + `
		WHERE conversation_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	SelectMessagesByChatQuery = selectMessageColumns + `
		WHERE chat_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	SelectMessagesBySessionQuery = selectMessageColumns + `
		WHERE session_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	SearchMessagesQuery = selectMessageColumns + `
		WHERE body ILIKE '%' || $1 || '%'
		   OR from_phone ILIKE '%' || $1 || '%'
		   OR to_phone ILIKE '%' || $1 || '%'
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	CountMessagesByConversationQuery = `
		SELECT COUNT(*) FROM whatsapp_message WHERE conversation_id = $1
	`

	MarkMessageReadQuery = `
		UPDATE whatsapp_message
		SET is_read = TRUE, read_at = now()
		WHERE id = $1 AND is_read = FALSE
	`

	DeleteMessageQuery = `
		DELETE FROM whatsapp_message WHERE id = $1
	`

	MarkConversationMessagesReadQuery = `
		UPDATE whatsapp_message
		SET is_read = TRUE, read_at = now()
		WHERE conversation_id = $1 AND direction = 'inbound' AND is_read = FALSE
	`

	// $1 is an optional chat filter; pass '' to count across the team.
	CountUnreadMessagesQuery = `
		SELECT COUNT(*)
		FROM whatsapp_message
		WHERE direction = 'inbound'
		  AND is_read = FALSE
		  AND ($1 = '' OR chat_id = $1)
	`

	SelectMessageTimesByPhoneQuery = `
		SELECT timestamp, direction
		FROM whatsapp_message
		WHERE (from_phone = $1 OR to_phone = $1)
		  AND timestamp >= $2
		ORDER BY timestamp ASC
	`

	SelectMessageBodiesByPhoneQuery = `
		SELECT COALESCE(body, ''), timestamp
		FROM whatsapp_message
		WHERE from_phone = $1
		  AND direction = 'inbound'
		  AND timestamp >= $2
		  AND body IS NOT NULL
		ORDER BY timestamp DESC
		LIMIT $3
	`

	// Messages either way with the owning conversation's funnel stage.
	// Orphan messages join to an empty stage.
	SelectJourneyMessagesQuery = `
		SELECT m.id, m.timestamp, m.direction, m.type, COALESCE(c.stage, '')
		FROM whatsapp_message m
		LEFT JOIN whatsapp_conversation c ON c.id = m.conversation_id
		WHERE (m.from_phone = $1 OR m.to_phone = $1)
		  AND m.timestamp >= $2 AND m.timestamp < $3
		ORDER BY m.timestamp ASC
		LIMIT $4
	`
)

// Conversation queries
const (
	// One conversation per contact per team. A message into a closed
	// conversation reopens it; archived stays archived.
	UpsertConversationOnMessageQuery = `
		INSERT INTO whatsapp_conversation (
			team_id, contact_phone, contact_name, first_message_at,
			last_message_at, message_count, unread_count
		) VALUES ($1, $2, $3, $4, $4, 1, $5)
		ON CONFLICT (team_id, contact_phone) DO UPDATE SET
			last_message_at = EXCLUDED.last_message_at,
			message_count   = whatsapp_conversation.message_count + 1,
			unread_count    = whatsapp_conversation.unread_count + EXCLUDED.unread_count,
			contact_name    = COALESCE(EXCLUDED.contact_name, whatsapp_conversation.contact_name),
			status          = CASE WHEN whatsapp_conversation.status = 'closed'
			                       THEN 'open' ELSE whatsapp_conversation.status END,
			updated_at      = now()
		RETURNING id
	`

	selectConversationColumns = `
		SELECT id, team_id, contact_phone, contact_name, status, stage,
		       assigned_to, unread_count, message_count, first_message_at,
		       last_message_at, created_at, updated_at, metadata
		FROM whatsapp_conversation
	`

	SelectConversationByIDQuery = selectConversationColumns + `
		WHERE id = $1
	`

	SelectConversationByPhoneQuery = selectConversationColumns + `
		WHERE contact_phone = $1
	`

	UpdateConversationQuery = `
		UPDATE whatsapp_conversation
		SET status      = COALESCE($2, status),
		    stage       = COALESCE($3, stage),
		    assigned_to = COALESCE($4, assigned_to),
		    metadata    = CASE WHEN $5::jsonb IS NULL THEN metadata ELSE metadata || $5::jsonb END,
		    updated_at  = now()
		WHERE id = $1
	`

	ResetConversationUnreadQuery = `
		UPDATE whatsapp_conversation
		SET unread_count = 0, updated_at = now()
		WHERE id = $1
	`

	SelectStaleOpenConversationsQuery = selectConversationColumns + `
		WHERE status = 'open' AND last_message_at < $1
	`
)

// Contact queries
const (
	UpsertContactQuery = `
		INSERT INTO whatsapp_contact (
			team_id, phone_number, name, pushname, is_my_contact,
			is_group, is_business, profile_pic_url, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (team_id, phone_number) DO UPDATE SET
			name            = COALESCE(EXCLUDED.name, whatsapp_contact.name),
			pushname        = COALESCE(EXCLUDED.pushname, whatsapp_contact.pushname),
			is_my_contact   = EXCLUDED.is_my_contact OR whatsapp_contact.is_my_contact,
			is_business     = EXCLUDED.is_business,
			profile_pic_url = COALESCE(EXCLUDED.profile_pic_url, whatsapp_contact.profile_pic_url),
			updated_at      = now()
		RETURNING id
	`

	selectContactColumns = `
		SELECT id, team_id, phone_number, name, pushname, is_my_contact,
		       is_group, is_business, profile_pic_url, metadata, created_at, updated_at
		FROM whatsapp_contact
	`

	SelectContactByPhoneQuery = selectContactColumns + `
		WHERE phone_number = $1
	`

	SelectContactsQuery = selectContactColumns + `
		WHERE ($1 = '' OR phone_number ILIKE '%' || $1 || '%'
		       OR name ILIKE '%' || $1 || '%'
		       OR pushname ILIKE '%' || $1 || '%')
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	CountContactsQuery = `
		SELECT COUNT(*)
		FROM whatsapp_contact
		WHERE ($1 = '' OR phone_number ILIKE '%' || $1 || '%'
		       OR name ILIKE '%' || $1 || '%'
		       OR pushname ILIKE '%' || $1 || '%')
	`

	// NULL name keeps the current one; metadata merges instead of replacing.
	UpdateContactQuery = `
		UPDATE whatsapp_contact
		SET name       = COALESCE($2, name),
		    metadata   = CASE WHEN $3::jsonb IS NULL THEN metadata ELSE metadata || $3::jsonb END,
		    updated_at = now()
		WHERE phone_number = $1
	`
)

// Event queries
const (
	InsertEventQuery = `
		INSERT INTO whatsapp_event (team_id, session_id, type, data, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	SelectEventsQuery = `
		SELECT id, team_id, session_id, type, data, timestamp,
		       processed, processed_at, sent_to_analytics
		FROM whatsapp_event
		WHERE ($1 = '' OR type = $1)
		  AND ($2::uuid IS NULL OR session_id = $2)
		  AND timestamp >= $3 AND timestamp < $4
		ORDER BY timestamp DESC
		LIMIT $5 OFFSET $6
	`

	MarkEventProcessedQuery = `
		UPDATE whatsapp_event
		SET processed = TRUE, processed_at = now(), sent_to_analytics = $2
		WHERE id = $1
	`

	CountEventsByTypeQuery = `
		SELECT type, COUNT(*)
		FROM whatsapp_event
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY type
	`

	DeleteOldEventsQuery = `
		DELETE FROM whatsapp_event
		WHERE processed = TRUE AND timestamp < $1
	`
)

// Identity correlation queries
const (
	selectCorrelationColumns = `
		SELECT id, team_id, wa_phone, wa_contact_name, umami_user_id,
		       umami_session_id, confidence_score, method, evidence, verified,
		       verified_by, verified_at, user_consent, is_active, created_at, updated_at
		FROM whatsapp_user_identity_correlation
	`

	SelectActiveCorrelationByPhoneQuery = selectCorrelationColumns + `
		WHERE wa_phone = $1 AND is_active
	`

	SelectCorrelationByIDQuery = selectCorrelationColumns + `
		WHERE id = $1
	`

	InsertCorrelationQuery = `
		INSERT INTO whatsapp_user_identity_correlation (
			team_id, wa_phone, wa_contact_name, umami_user_id, umami_session_id,
			confidence_score, method, evidence, verified, verified_by,
			verified_at, user_consent, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`

	DeactivateCorrelationQuery = `
		UPDATE whatsapp_user_identity_correlation
		SET is_active = FALSE, updated_at = now()
		WHERE id = $1
	`

	UpdateCorrelationVerificationQuery = `
		UPDATE whatsapp_user_identity_correlation
		SET verified = TRUE,
		    verified_by = $2,
		    verified_at = now(),
		    confidence_score = COALESCE($3, confidence_score),
		    is_active = $4,
		    updated_at = now()
		WHERE id = $1
	`

	UpdateCorrelationEvidenceQuery = `
		UPDATE whatsapp_user_identity_correlation
		SET evidence = $2, updated_at = now()
		WHERE id = $1
	`

	SelectUnverifiedHighConfidenceQuery = selectCorrelationColumns + `
		WHERE is_active AND NOT verified AND confidence_score >= $1
		ORDER BY confidence_score DESC
		LIMIT $2
	`

	CorrelationStatsQuery = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE verified),
		       COUNT(*) FILTER (WHERE NOT verified),
		       COALESCE(AVG(confidence_score), 0)
		FROM whatsapp_user_identity_correlation
		WHERE is_active
	`

	CorrelationMethodDistributionQuery = `
		SELECT method, COUNT(*)
		FROM whatsapp_user_identity_correlation
		WHERE is_active
		GROUP BY method
	`
)

// Conversion queries
const (
	InsertConversionQuery = `
		INSERT INTO whatsapp_conversions (
			team_id, user_id, wa_phone, type, value, currency,
			timestamp, touchpoints, attribution, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	selectConversionColumns = `
		SELECT id, team_id, user_id, wa_phone, type, value, currency,
		       timestamp, touchpoints, attribution, metadata
		FROM whatsapp_conversions
	`

	SelectConversionsByUserQuery = selectConversionColumns + `
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC
	`

	SelectConversionsQuery = selectConversionColumns + `
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp DESC
		LIMIT $3 OFFSET $4
	`

	UpdateConversionAttributionQuery = `
		UPDATE whatsapp_conversions
		SET touchpoints = $2, attribution = $3
		WHERE id = $1
	`
)

// Notification queries
const (
	InsertNotificationQuery = `
		INSERT INTO whatsapp_notification (
			team_id, user_id, type, title, body, severity, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	SelectNotificationsQuery = `
		SELECT id, team_id, user_id, type, title, body, severity,
		       read, read_at, dismissed, metadata, created_at
		FROM whatsapp_notification
		WHERE (user_id IS NULL OR user_id = $1)
		  AND NOT dismissed
		  AND ($2 = FALSE OR read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	MarkNotificationReadQuery = `
		UPDATE whatsapp_notification
		SET read = TRUE, read_at = now()
		WHERE id = $1
	`

	MarkAllNotificationsReadQuery = `
		UPDATE whatsapp_notification
		SET read = TRUE, read_at = now()
		WHERE (user_id IS NULL OR user_id = $1) AND read = FALSE
	`

	DismissNotificationQuery = `
		UPDATE whatsapp_notification
		SET dismissed = TRUE
		WHERE id = $1
	`

	CountUnreadNotificationsQuery = `
		SELECT COUNT(*)
		FROM whatsapp_notification
		WHERE (user_id IS NULL OR user_id = $1) AND read = FALSE AND NOT dismissed
	`

	DeleteOldNotificationsQuery = `
		DELETE FROM whatsapp_notification
		WHERE created_at < $1
	`
)

// Aggregation queries for the metric families. All of them lean on the
// (team_id, timestamp) index through the row-level-security predicate.
const (
	// Pairs every inbound message with the next outbound reply in the same
	// conversation inside the pairing window.
	SelectResponsePairsQuery = `
		SELECT m.conversation_id,
		       m.timestamp,
		       o.timestamp,
		       EXTRACT(EPOCH FROM (o.timestamp - m.timestamp))
		FROM whatsapp_message m
		JOIN LATERAL (
			SELECT timestamp
			FROM whatsapp_message o
			WHERE o.conversation_id = m.conversation_id
			  AND o.direction = 'outbound'
			  AND o.timestamp > m.timestamp
			  AND o.timestamp <= m.timestamp + make_interval(secs => $3)
			ORDER BY o.timestamp ASC
			LIMIT 1
		) o ON TRUE
		WHERE m.direction = 'inbound'
		  AND m.conversation_id IS NOT NULL
		  AND m.timestamp >= $1 AND m.timestamp < $2
		ORDER BY m.conversation_id, m.timestamp ASC
	`

	SelectVolumeBucketsQuery = `
		SELECT date_trunc($3, timestamp) AS bucket, direction, COUNT(*)
		FROM whatsapp_message
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY bucket, direction
		ORDER BY bucket ASC
	`

	SelectVolumeByHourQuery = `
		SELECT EXTRACT(HOUR FROM timestamp)::int, COUNT(*)
		FROM whatsapp_message
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY 1
	`

	SelectConversationStatsQuery = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'open'),
		       COUNT(*) FILTER (WHERE status = 'closed'),
		       COUNT(*) FILTER (WHERE status = 'archived'),
		       COALESCE(AVG(message_count), 0),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (last_message_at - first_message_at))), 0)
		FROM whatsapp_conversation
		WHERE first_message_at >= $1 AND first_message_at < $2
	`

	SelectStageDistributionQuery = `
		SELECT stage, COUNT(*)
		FROM whatsapp_conversation
		WHERE status != 'archived'
		GROUP BY stage
	`

	SelectEngagementCountsQuery = `
		SELECT COUNT(DISTINCT from_phone) FILTER (WHERE timestamp >= $1),
		       COUNT(DISTINCT from_phone) FILTER (WHERE timestamp >= $2),
		       COUNT(DISTINCT from_phone) FILTER (WHERE timestamp >= $3),
		       COUNT(*) FILTER (WHERE timestamp >= $1)
		FROM whatsapp_message
		WHERE direction = 'inbound' AND timestamp >= $3
	`

	SelectAgentConversationStatsQuery = `
		SELECT assigned_to,
		       COUNT(*) FILTER (WHERE status = 'closed'),
		       COALESCE(SUM(message_count), 0)
		FROM whatsapp_conversation
		WHERE assigned_to IS NOT NULL
		  AND last_message_at >= $1 AND last_message_at < $2
		GROUP BY assigned_to
	`

	SelectAgentResponseTimesQuery = `
		SELECT c.assigned_to, AVG(EXTRACT(EPOCH FROM (o.timestamp - m.timestamp)))
		FROM whatsapp_message m
		JOIN whatsapp_conversation c ON c.id = m.conversation_id AND c.assigned_to IS NOT NULL
		JOIN LATERAL (
			SELECT timestamp
			FROM whatsapp_message o
			WHERE o.conversation_id = m.conversation_id
			  AND o.direction = 'outbound'
			  AND o.timestamp > m.timestamp
			  AND o.timestamp <= m.timestamp + make_interval(secs => $3)
			ORDER BY o.timestamp ASC
			LIMIT 1
		) o ON TRUE
		WHERE m.direction = 'inbound'
		  AND m.timestamp >= $1 AND m.timestamp < $2
		GROUP BY c.assigned_to
	`

	SelectLiveCountsQuery = `
		SELECT (SELECT COUNT(*) FROM whatsapp_conversation WHERE status = 'open'),
		       (SELECT COUNT(*) FROM whatsapp_message WHERE timestamp >= now() - interval '1 hour'),
		       (SELECT COUNT(*) FROM whatsapp_message WHERE timestamp >= now() - interval '1 minute')
	`

	SelectActiveConversationsQuery = `
		SELECT id, contact_phone, COALESCE(contact_name, ''), stage, last_message_at, unread_count
		FROM whatsapp_conversation
		WHERE status = 'open'
		ORDER BY last_message_at DESC
		LIMIT $1
	`

	SelectCohortRowsQuery = `
		SELECT date_trunc($1, c.first_message_at) AS cohort,
		       FLOOR(EXTRACT(EPOCH FROM (m.timestamp - date_trunc($1, c.first_message_at))) / $2)::int AS period,
		       COUNT(DISTINCT c.contact_phone)
		FROM whatsapp_conversation c
		JOIN whatsapp_message m ON m.conversation_id = c.id AND m.direction = 'inbound'
		WHERE c.first_message_at >= $3 AND c.first_message_at < $4
		GROUP BY cohort, period
		ORDER BY cohort ASC, period ASC
	`
)

// Read-only queries against the upstream web-analytics schema. These carry
// an explicit website-owner filter ($1 = team id) because row level
// security does not cover foreign tables.
const (
	SelectWebIdentityEventsQuery = `
		SELECT s.session_id, COALESCE(s.distinct_id, ''), ed.data_key, ed.string_value, ed.created_at
		FROM event_data ed
		JOIN website_event we ON we.event_id = ed.website_event_id
		JOIN session s ON s.session_id = we.session_id
		JOIN website w ON w.website_id = we.website_id
		WHERE w.team_id = $1
		  AND lower(ed.data_key) = ANY($2)
		  AND ed.string_value IS NOT NULL
		  AND ed.created_at >= $3
		ORDER BY ed.created_at DESC
		LIMIT $4
	`

	SelectWebSessionsBetweenQuery = `
		SELECT s.session_id, COALESCE(s.distinct_id, ''), s.created_at,
		       COALESCE(s.browser, ''), COALESCE(s.os, ''), COALESCE(s.device, ''),
		       COALESCE(ev.event_count, 0), COALESCE(ev.last_event_at, s.created_at)
		FROM session s
		JOIN website w ON w.website_id = s.website_id
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS event_count, MAX(created_at) AS last_event_at
			FROM website_event we
			WHERE we.session_id = s.session_id
		) ev ON TRUE
		WHERE w.team_id = $1
		  AND s.created_at >= $2 AND s.created_at <= $3
		ORDER BY s.created_at DESC
		LIMIT $4
	`

	SelectWebActivityHistogramQuery = `
		SELECT EXTRACT(HOUR FROM we.created_at)::int,
		       EXTRACT(DOW FROM we.created_at)::int,
		       COUNT(*)
		FROM website_event we
		JOIN session s ON s.session_id = we.session_id
		JOIN website w ON w.website_id = we.website_id
		WHERE w.team_id = $1
		  AND s.distinct_id = $2
		  AND we.created_at >= $3
		GROUP BY 1, 2
	`

	SelectWebEventsByUserQuery = `
		SELECT we.event_id, we.created_at, COALESCE(we.url_path, ''),
		       COALESCE(we.event_name, ''), we.event_type, COALESCE(we.referrer_domain, '')
		FROM website_event we
		JOIN session s ON s.session_id = we.session_id
		JOIN website w ON w.website_id = we.website_id
		WHERE w.team_id = $1
		  AND s.distinct_id = $2
		  AND we.created_at >= $3 AND we.created_at <= $4
		ORDER BY we.created_at ASC
		LIMIT $5
	`

	SelectWebConversionEventsQuery = `
		SELECT we.event_id, we.event_name, we.created_at
		FROM website_event we
		JOIN session s ON s.session_id = we.session_id
		JOIN website w ON w.website_id = we.website_id
		WHERE w.team_id = $1
		  AND s.distinct_id = $2
		  AND we.event_type = 2
		  AND we.created_at >= $3 AND we.created_at <= $4
		ORDER BY we.created_at ASC
	`

	SelectWebSessionDataMatchesQuery = `
		SELECT s.session_id, COALESCE(s.distinct_id, ''), sd.data_key, sd.string_value, sd.created_at
		FROM session_data sd
		JOIN session s ON s.session_id = sd.session_id
		JOIN website w ON w.website_id = s.website_id
		WHERE w.team_id = $1
		  AND sd.string_value ILIKE ANY($2)
		  AND sd.created_at >= $3
		ORDER BY sd.created_at DESC
		LIMIT $4
	`

	// data_type 1 is the tracker's string type; other types keep their
	// payload in number_value or date_value.
	SelectWebEventDataMatchesQuery = `
		SELECT s.session_id, COALESCE(s.distinct_id, ''), ed.data_key, ed.string_value,
		       COALESCE(we.event_name, ''), ed.created_at
		FROM event_data ed
		JOIN website_event we ON we.event_id = ed.website_event_id
		JOIN session s ON s.session_id = we.session_id
		JOIN website w ON w.website_id = we.website_id
		WHERE w.team_id = $1
		  AND ed.data_type = 1
		  AND ed.string_value ILIKE ANY($2)
		  AND ed.created_at >= $3
		ORDER BY ed.created_at DESC
		LIMIT $4
	`

	SelectActiveWebUsersQuery = `
		SELECT s.distinct_id, COUNT(we.event_id)
		FROM session s
		JOIN website w ON w.website_id = s.website_id
		JOIN website_event we ON we.session_id = s.session_id
		WHERE w.team_id = $1
		  AND COALESCE(s.distinct_id, '') != ''
		  AND we.created_at >= $2
		GROUP BY s.distinct_id
		ORDER BY COUNT(we.event_id) DESC
		LIMIT $3
	`
)
