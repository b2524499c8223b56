package strategy

// Policy 是分类结果，对应 worker 的一条取数路径。
type Policy string

const (
	PolicyCacheFirst        Policy = "cache-first"
	PolicyNetworkFirstImage Policy = "network-first-image"
	PolicyNetworkFirst      Policy = "network-first"
)

func (p Policy) String() string {
	return string(p)
}

// Destination 沿用 Sec-Fetch-Dest 的取值，描述请求的用途。
type Destination string

const (
	DestinationEmpty    Destination = ""
	DestinationDocument Destination = "document"
	DestinationImage    Destination = "image"
	DestinationScript   Destination = "script"
	DestinationStyle    Destination = "style"
	DestinationFont     Destination = "font"
	DestinationIframe   Destination = "iframe"
)

// StoreRole 描述策略写入哪一类缓存仓。
type StoreRole string

const (
	StoreRoleStatic  StoreRole = "static"
	StoreRoleDynamic StoreRole = "dynamic"
	StoreRoleNone    StoreRole = "none"
)
