package serial

import (
	"testing"

	"github.com/Gurux/gxcommon-go"
	"github.com/irctrakz/ser2tcp/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bugst "go.bug.st/serial"
)

func TestWantedPorts(t *testing.T) {
	available := []string{"/dev/ttyUSB0", "COM3", "com4"}

	assert.Equal(t, available, wantedPorts(available, ""))
	assert.Equal(t, available, wantedPorts(available, "   "))
	assert.Equal(t, []string{"COM3"}, wantedPorts(available, "com3"))
	assert.Equal(t, []string{"com4"}, wantedPorts(available, " COM4 "))
	assert.Empty(t, wantedPorts(available, "COM9"))
	assert.Empty(t, wantedPorts(nil, ""))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("", ProviderOptions{})
	require.NoError(t, err)
	assert.IsType(t, &NativeProvider{}, p)
	assert.Equal(t, DefaultReadTimeout, p.(*NativeProvider).ReadTimeout)

	p, err = NewProvider("Gurux", ProviderOptions{})
	require.NoError(t, err)
	assert.IsType(t, &GuruxProvider{}, p)

	p, err = NewProvider(DriverMock, ProviderOptions{})
	require.NoError(t, err)
	names, err := p.PortNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"MOCK0"}, names)

	_, err = NewProvider("usb-magic", ProviderOptions{})
	assert.Error(t, err)
}

func TestMockProvider_Loopback(t *testing.T) {
	p, err := NewProvider(DriverMock, ProviderOptions{})
	require.NoError(t, err)
	port, err := p.Open("MOCK0", core.DefaultConnectionConfig(0).Serial())
	require.NoError(t, err)

	n, err := port.Write([]byte("echo"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 8)
	n, err = port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "echo", string(buf[:n]))

	// nothing queued: a timed out read
	n, err = port.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, port.Close())
	assert.ErrorIs(t, port.Close(), ErrPortClosed)
	_, err = port.Read(buf)
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestNativeMode(t *testing.T) {
	mode, err := nativeMode(core.SerialSettings{BaudRate: 9600, DataBits: 7, Parity: core.ParityEven, StopBits: core.StopBitsTwo})
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, bugst.EvenParity, mode.Parity)
	assert.Equal(t, bugst.TwoStopBits, mode.StopBits)

	mode, err = nativeMode(core.SerialSettings{BaudRate: 115200, DataBits: 8, Parity: core.ParitySpace, StopBits: core.StopBitsOnePointFive})
	require.NoError(t, err)
	assert.Equal(t, bugst.SpaceParity, mode.Parity)
	assert.Equal(t, bugst.OnePointFiveStopBits, mode.StopBits)

	_, err = nativeMode(core.SerialSettings{Parity: core.Parity(42)})
	assert.Error(t, err)
}

func TestGuruxSettings(t *testing.T) {
	parity, stop, err := guruxSettings(core.SerialSettings{Parity: core.ParityOdd, StopBits: core.StopBitsOne})
	require.NoError(t, err)
	assert.Equal(t, gxcommon.ParityOdd, parity)
	assert.Equal(t, gxcommon.StopBitsOne, stop)

	parity, stop, err = guruxSettings(core.SerialSettings{Parity: core.ParityMark, StopBits: core.StopBitsTwo})
	require.NoError(t, err)
	assert.Equal(t, gxcommon.ParityMark, parity)
	assert.Equal(t, gxcommon.StopBitsTwo, stop)

	_, _, err = guruxSettings(core.SerialSettings{StopBits: core.StopBitsOnePointFive})
	assert.Error(t, err)
}

func TestGuruxMedia_LineSettings(t *testing.T) {
	media, err := newGuruxMedia("COM7", core.SerialSettings{
		BaudRate: 19200,
		DataBits: 7,
		Parity:   core.ParityEven,
		StopBits: core.StopBitsTwo,
	})
	require.NoError(t, err)
	assert.Equal(t, "COM7", media.Port)
	assert.Equal(t, gxcommon.BaudRate(19200), media.BaudRate())
	assert.Equal(t, 7, media.DataBits())
	assert.Equal(t, gxcommon.ParityEven, media.Parity())
	assert.Equal(t, gxcommon.StopBitsTwo, media.StopBits())

	_, err = newGuruxMedia("COM7", core.SerialSettings{StopBits: core.StopBitsOnePointFive})
	assert.Error(t, err)
}
