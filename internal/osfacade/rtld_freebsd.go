package osfacade

// FreeBSD dlfcn.h RTLD_NODELETE; not exposed by purego.
const rtldNodelete = 0x01000
