package explorer

// Delegate observes the Central. Every call is routed through the Central's
// Dispatcher, after the Central lock has been released.
//
// Embed NopDelegate to implement only the callbacks of interest.
type Delegate interface {
	// Error receives every asynchronous error raised anywhere in the tree.
	Error(c *Central, err error)
	// StateRefresh fires when scan state, power state, or the staged/ignored lists change.
	StateRefresh(c *Central)
	PoweredOn(c *Central)
	PeripheralConnected(p *PeripheralNode)
	// PeripheralReady fires once every service subtree has finished discovery.
	PeripheralReady(p *PeripheralNode)
	PeripheralWillDisconnect(p *PeripheralNode)
	PeripheralDidDisconnect(p *PeripheralNode)
	ServiceChanged(p *PeripheralNode, s *ServiceNode)
	CharacteristicChanged(p *PeripheralNode, s *ServiceNode, ch *CharacteristicNode)
	DescriptorChanged(p *PeripheralNode, s *ServiceNode, ch *CharacteristicNode, d *DescriptorNode)
}

// NopDelegate implements Delegate with no-op methods.
type NopDelegate struct{}

func (NopDelegate) Error(*Central, error)                                                    {}
func (NopDelegate) StateRefresh(*Central)                                                    {}
func (NopDelegate) PoweredOn(*Central)                                                       {}
func (NopDelegate) PeripheralConnected(*PeripheralNode)                                      {}
func (NopDelegate) PeripheralReady(*PeripheralNode)                                          {}
func (NopDelegate) PeripheralWillDisconnect(*PeripheralNode)                                 {}
func (NopDelegate) PeripheralDidDisconnect(*PeripheralNode)                                  {}
func (NopDelegate) ServiceChanged(*PeripheralNode, *ServiceNode)                             {}
func (NopDelegate) CharacteristicChanged(*PeripheralNode, *ServiceNode, *CharacteristicNode) {}
func (NopDelegate) DescriptorChanged(*PeripheralNode, *ServiceNode, *CharacteristicNode, *DescriptorNode) {
}

var _ Delegate = NopDelegate{}

// Dispatcher runs fn on the delegate context. It must preserve submission order.
type Dispatcher func(fn func())

// InlineDispatcher runs fn on the calling goroutine.
func InlineDispatcher(fn func()) { fn() }
