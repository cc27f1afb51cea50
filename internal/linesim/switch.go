package linesim

type swState uint8

const (
	swIdle    swState = iota
	swIgnore          // Unknown command or unacknowledged write, wait for start.
	swCmd             // Receiving command byte.
	swAddrLo          // Receiving addr[7:0].
	swAddrHi          // Receiving addr[15:8].
	swDataLo          // Receiving data[7:0].
	swDataHi          // Receiving data[15:8].
	swAck             // Driving ACK slots.
	swSend            // Driving a data byte.
	swHostAck         // Sampling the master's ACK.
	swDone            // Transaction complete, wait for stop.
)

// Switch models a Realtek switch answering SMI register accesses.
// It samples on rising clock edges and changes its output on falling edges.
// Start and stop conditions are only recognized while the host drives the data line.
type Switch struct {
	// Regs holds register values. A nil map reads as all zeros; writes allocate it.
	Regs map[uint16]uint16
	// AckDelay is the amount of ACK slots the switch leaves high before
	// acknowledging each byte it receives.
	AckDelay int
	// ResetAddr, when HasReset is set, is a register whose write resets the
	// switch: the high data byte is never acknowledged.
	ResetAddr uint16
	HasReset  bool

	// Reads, Writes and Resets count completed transactions.
	Reads, Writes, Resets int
	// AckSlots counts ACK bit slots clocked by the host, acknowledged or not.
	AckSlots int
	// HostAcks holds the ACK bits driven by the host after each byte the switch sent.
	HostAcks []bool

	state     swState
	next      swState
	read      bool
	nack      int
	shift     uint8
	count     int
	addr      uint16
	value     uint16
	out       uint16
	sentHi    bool
	driving   bool
	driveHigh bool
	lastClock bool
	lastData  bool
}

var _ Peer = (*Switch)(nil)

func (s *Switch) DriveData() (level, driving bool) {
	return s.driveHigh, s.driving
}

// Reg returns the value of register addr.
func (s *Switch) Reg(addr uint16) uint16 {
	return s.Regs[addr]
}

func (s *Switch) Observe(clock, data, hostDrivesData bool) {
	lastClock, lastData := s.lastClock, s.lastData
	s.lastClock, s.lastData = clock, data
	switch {
	case clock && lastClock && data != lastData && hostDrivesData:
		s.driving = false
		if !data {
			s.state = swCmd
			s.shift, s.count = 0, 0
		} else {
			s.state = swIdle
		}
	case clock && !lastClock:
		s.rise(data)
	case !clock && lastClock:
		s.fall()
	}
}

func (s *Switch) rise(data bool) {
	switch s.state {
	case swCmd, swAddrLo, swAddrHi, swDataLo, swDataHi:
		s.shift <<= 1
		if data {
			s.shift |= 1
		}
		s.count++
		if s.count == 8 {
			s.gotByte(s.shift)
			s.shift, s.count = 0, 0
		}
	case swAck:
		s.AckSlots++
		if s.nack > 0 {
			s.nack--
			return
		}
		s.state = s.next
		s.count = 0
	case swSend:
		s.count++
		if s.count == 8 {
			s.state = swHostAck
		}
	case swHostAck:
		s.HostAcks = append(s.HostAcks, data)
		s.count = 0
		if s.sentHi {
			s.state = swDone
		} else {
			s.sentHi = true
			s.state = swSend
		}
	}
}

// fall prepares the data line for the next rising edge.
func (s *Switch) fall() {
	switch s.state {
	case swAck:
		if s.nack > 0 {
			s.release()
		} else {
			s.drive(false)
		}
	case swSend:
		b := uint8(s.out)
		if s.sentHi {
			b = uint8(s.out >> 8)
		}
		s.drive(b&(1<<(7-s.count)) != 0)
	default:
		s.release()
	}
}

func (s *Switch) gotByte(b uint8) {
	switch s.state {
	case swCmd:
		switch b {
		case 0xa9:
			s.read = true
		case 0xb8:
			s.read = false
		default:
			s.state = swIgnore
			return
		}
		s.ack(swAddrLo)
	case swAddrLo:
		s.addr = uint16(b)
		s.ack(swAddrHi)
	case swAddrHi:
		s.addr |= uint16(b) << 8
		if !s.read {
			s.ack(swDataLo)
			return
		}
		s.Reads++
		s.out = s.Regs[s.addr]
		s.sentHi = false
		s.ack(swSend)
	case swDataLo:
		s.value = uint16(b)
		s.ack(swDataHi)
	case swDataHi:
		s.value |= uint16(b) << 8
		if s.HasReset && s.addr == s.ResetAddr {
			s.Resets++
			s.state = swIgnore
			return
		}
		if s.Regs == nil {
			s.Regs = make(map[uint16]uint16)
		}
		s.Regs[s.addr] = s.value
		s.Writes++
		s.ack(swDone)
	}
}

func (s *Switch) ack(next swState) {
	s.state = swAck
	s.next = next
	s.nack = s.AckDelay
}

func (s *Switch) drive(high bool) {
	s.driving = true
	s.driveHigh = high
}

func (s *Switch) release() {
	s.driving = false
}
