package mq

// Routing keys on the events exchange.
const (
	RoutingNotificationCreated = "notification.created"
	RoutingTicketCreated       = "ticket.created"
	RoutingTicketMessage       = "ticket.message.created"
	RoutingTicketStatusChanged = "ticket.status_changed"
	RoutingSubscriptionUpdated = "subscription.updated"
	RoutingSocialPostPublished = "social_post.published"
	RoutingFormSubmitted       = "form.submitted"
	RoutingEmailRequested      = "email.requested"
)

// Aggregate types stored in outbox_events.aggregate_type.
const (
	AggregateTenant       = "tenant"
	AggregateSubscription = "subscription"
	AggregateTicket       = "ticket"
	AggregateSocialPost   = "social_post"
	AggregateForm         = "form_submission"
	AggregateNotification = "notification"
)
