package constants

const (
	DiscoveryCronJobRescanName = "Rescan"
	DiscoveryCronJobSweepName  = "Sweep"

	DiscoveryInformerIngressName = "Ingress"
)

const (
	AuditRunnerName = "Runner"
)

const (
	HandleDatabaseMySQL = "MySQL"
	HandleLark          = "Lark"
)

const (
	DiscoveryCronJobPluginType  = "discovery-cronjob"
	DiscoveryInformerPluginType = "discovery-informer"
	AuditRunnerPluginType       = "audit-runner"
	HandleDatabasePluginType    = "handle-database"
	HandleLarkPluginType        = "handle-lark"
)

// Event bus topics. Discovery plugins publish scan targets, the audit
// runner publishes finished scan reports, handle plugins consume them.
const (
	DiscoveryTopic = "discovery"
	ReportTopic    = "report"
)
