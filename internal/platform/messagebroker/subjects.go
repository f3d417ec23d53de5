package messagebroker

// NATS subjects and queue groups for the campaign pipeline.
const (
	SubjectCampaignPrepare = "campaign.jobs.prepare"
	SubjectCampaignSend    = "campaign.jobs.send"

	QueueGroupPrepWorkers     = "campaign_prep_workers"
	QueueGroupDeliveryWorkers = "campaign_delivery_workers"
)
