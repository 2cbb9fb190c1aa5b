// Command kiosk runs the attendance capture wizard on a camera-equipped device.
package main

func main() {
	Execute()
}
